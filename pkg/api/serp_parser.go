package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"keyword-enricher/pkg/keyword"
)

const (
	baseOrganicCTR          = 0.28
	minOrganicCTR           = 0.02
	maxSERPIntentConfidence = 0.6
)

// SERPResponse is the subset of a search results page the adapter reads
type SERPResponse struct {
	Error          string `json:"error"`
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	SearchInformation struct {
		TotalResults int64 `json:"total_results"`
	} `json:"search_information"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
	} `json:"organic_results"`
	Ads              []json.RawMessage `json:"ads"`
	ShoppingResults  []json.RawMessage `json:"shopping_results"`
	AnswerBox        json.RawMessage   `json:"answer_box"`
	RelatedQuestions []json.RawMessage `json:"related_questions"`
	LocalResults     json.RawMessage   `json:"local_results"`
}

// SERPParser derives CTR and intent estimates from a results page
type SERPParser struct{}

func NewSERPParser() *SERPParser {
	return &SERPParser{}
}

// ParseResponse builds the record for kw from one results page
func (p *SERPParser) ParseResponse(body []byte, kw string, location int, fetchedAt time.Time) (*keyword.Record, error) {
	if len(body) == 0 {
		return nil, malformed(keyword.ProviderSERP, errors.New("empty response body"))
	}

	var resp SERPResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed(keyword.ProviderSERP, fmt.Errorf("%w (response: %s)", err, string(body[:min(len(body), 200)])))
	}
	if resp.Error != "" {
		return nil, NewProviderError(keyword.ProviderSERP, KindOf(errors.New(resp.Error)), 0, resp.Error)
	}
	if status := resp.SearchMetadata.Status; status != "" && !strings.EqualFold(status, "success") {
		return nil, NewProviderError(keyword.ProviderSERP, KindTransient, 0, "search status "+status)
	}

	rec := keyword.NewRecord(keyword.Normalize(kw), location)
	rec.DataSource = keyword.SourceSERP
	rec.Origin = keyword.SourceSERP
	rec.FetchedAt = fetchedAt

	if len(resp.OrganicResults) > 0 {
		rec.OrganicCTR = keyword.Float64(p.estimateCTR(&resp))
	}
	intent, confidence := p.estimateIntent(rec.Keyword, &resp)
	rec.Intent = keyword.IntentPtr(intent)
	rec.IntentConfidence = confidence
	return rec, nil
}

// estimateCTR starts from the position-one CTR and subtracts SERP features that
// push organic results down the page
func (p *SERPParser) estimateCTR(resp *SERPResponse) float64 {
	ctr := baseOrganicCTR
	if n := len(resp.Ads); n > 0 {
		ctr -= 0.08
		if n >= 4 {
			ctr -= 0.04
		}
	}
	if len(resp.ShoppingResults) > 0 {
		ctr -= 0.06
	}
	if present(resp.AnswerBox) {
		ctr -= 0.08
	}
	if len(resp.RelatedQuestions) > 0 {
		ctr -= 0.03
	}
	if present(resp.LocalResults) {
		ctr -= 0.06
	}
	return math.Round(math.Max(ctr, minOrganicCTR)*1000) / 1000
}

var (
	transactionalTerms = []string{"buy", "price", "cheap", "deal", "discount", "coupon", "order", "for sale"}
	commercialTerms    = []string{"best", "review", "vs", "top", "compare", "alternative"}
	navigationalTerms  = []string{"login", "sign in", "website", "official", "app"}
	informationalTerms = []string{"how", "what", "why", "when", "who", "guide", "tutorial", "meaning"}
)

// estimateIntent guesses intent from the query and page features. The guess is
// never reported with more than maxSERPIntentConfidence.
func (p *SERPParser) estimateIntent(kw string, resp *SERPResponse) (keyword.Intent, float64) {
	switch {
	case hasTerm(kw, transactionalTerms) || len(resp.ShoppingResults) > 0:
		return keyword.IntentTransactional, maxSERPIntentConfidence
	case hasTerm(kw, navigationalTerms) || p.brandResult(kw, resp):
		return keyword.IntentNavigational, 0.5
	case hasTerm(kw, commercialTerms) || len(resp.Ads) >= 3:
		return keyword.IntentCommercial, 0.5
	case hasTerm(kw, informationalTerms) || present(resp.AnswerBox) || len(resp.RelatedQuestions) > 0:
		return keyword.IntentInformational, 0.5
	}
	return keyword.IntentInformational, 0.3
}

// brandResult reports whether the top organic result's host contains the whole query
func (p *SERPParser) brandResult(kw string, resp *SERPResponse) bool {
	if len(resp.OrganicResults) == 0 {
		return false
	}
	compact := strings.ReplaceAll(kw, " ", "")
	if len(compact) < 3 {
		return false
	}
	link := strings.ToLower(resp.OrganicResults[0].Link)
	if i := strings.Index(link, "://"); i >= 0 {
		link = link[i+3:]
	}
	if i := strings.Index(link, "/"); i >= 0 {
		link = link[:i]
	}
	return strings.Contains(link, compact)
}

func hasTerm(kw string, terms []string) bool {
	padded := " " + kw + " "
	for _, term := range terms {
		if strings.Contains(padded, " "+term+" ") {
			return true
		}
	}
	return false
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "{}" && s != "[]"
}
