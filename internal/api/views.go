package api

import (
	"time"

	"github.com/kalambet/jurist/internal/pipeline"
	"github.com/kalambet/jurist/internal/retrieval"
	"github.com/kalambet/jurist/internal/storage"
)

type tagView struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type queryView struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Text      string    `json:"text"`
	Modality  string    `json:"modality"`
	AudioRef  string    `json:"audioRef,omitempty"`
	FileRefs  []string  `json:"fileRefs,omitempty"`
	Status    string    `json:"status"`
	Tags      []tagView `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newQueryView(v pipeline.QueryView) queryView {
	tags := make([]tagView, len(v.Tags))
	for i, t := range v.Tags {
		tags[i] = tagView{Name: t.Name, Color: t.Color}
	}
	return queryView{
		ID:        v.ID,
		OwnerID:   v.OwnerID,
		Text:      v.Text,
		Modality:  string(v.Modality),
		AudioRef:  v.AudioRef,
		FileRefs:  v.FileRefs,
		Status:    string(v.Status),
		Tags:      tags,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

type responseView struct {
	ID         string         `json:"id"`
	QueryID    string         `json:"queryId"`
	Answer     storage.Answer `json:"answer"`
	Rating     *int           `json:"rating"`
	Published  bool           `json:"published"`
	SEOArticle *string        `json:"seoArticle"`
	Embedded   bool           `json:"embedded"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func newResponseView(r storage.Response) responseView {
	return responseView{
		ID:         r.ID,
		QueryID:    r.QueryID,
		Answer:     r.Answer,
		Rating:     r.Rating,
		Published:  r.Published,
		SEOArticle: r.Article,
		Embedded:   r.Embedding != nil,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type similarView struct {
	ResponseID string  `json:"responseId"`
	QueryID    string  `json:"queryId"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Score      float64 `json:"score"`
}

func newSimilarViews(recs []retrieval.ScoredRecord) []similarView {
	out := make([]similarView, len(recs))
	for i, r := range recs {
		out[i] = similarView{
			ResponseID: r.ResponseID,
			QueryID:    r.QueryID,
			Question:   r.Question,
			Answer:     r.Answer,
			Score:      r.Score,
		}
	}
	return out
}

type clusterMember struct {
	ResponseID string `json:"responseId"`
	QueryID    string `json:"queryId"`
	Question   string `json:"question"`
}

type clusterView struct {
	Size    int             `json:"size"`
	Members []clusterMember `json:"members"`
}

func newClusterViews(groups []retrieval.Group) []clusterView {
	out := make([]clusterView, len(groups))
	for i, g := range groups {
		members := make([]clusterMember, len(g.Members))
		for j, m := range g.Members {
			members[j] = clusterMember{ResponseID: m.ResponseID, QueryID: m.QueryID, Question: m.Question}
		}
		out[i] = clusterView{Size: len(members), Members: members}
	}
	return out
}
