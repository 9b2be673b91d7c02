// Package search indexes completed transcripts into Elasticsearch so they
// can be queried later. Indexing is strictly best-effort: a search outage
// must never fail a transcription that has already been delivered.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"voxnote/internal/common/database"
	"voxnote/internal/common/logger"
	"voxnote/internal/models"
)

type Indexer struct {
	es    *database.ElasticsearchClient
	index string
	log   logger.Logger
}

func NewIndexer(es *database.ElasticsearchClient, index string, log logger.Logger) *Indexer {
	return &Indexer{
		es:    es,
		index: index,
		log:   log.WithFields(map[string]interface{}{"component": "search"}),
	}
}

type transcriptDoc struct {
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	Summary    string    `json:"summary,omitempty"`
	Language   string    `json:"language,omitempty"`
	Seconds    float64   `json:"seconds"`
	IndexedAt  time.Time `json:"indexed_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Index stores one transcript document keyed by its dedup message ID, so a
// reprocessed note overwrites rather than duplicates. Errors are logged and
// swallowed.
func (i *Indexer) Index(ctx context.Context, t *models.Transcript) {
	doc := transcriptDoc{
		UserID:     t.UserID,
		MessageID:  t.MessageID,
		Text:       t.Text,
		Summary:    t.Summary,
		Language:   t.Language,
		Seconds:    t.Seconds,
		IndexedAt:  time.Now().UTC(),
		RecordedAt: t.CreatedAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		i.log.Error("transcript doc marshal failed", map[string]interface{}{
			"messageId": t.MessageID,
			"error":     err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := i.es.Client.Index(
		i.index,
		bytes.NewReader(body),
		i.es.Client.Index.WithDocumentID(t.MessageID),
		i.es.Client.Index.WithContext(ctx),
	)
	if err != nil {
		i.log.Warn("transcript indexing failed", map[string]interface{}{
			"messageId": t.MessageID,
			"error":     err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		i.log.Warn("transcript indexing rejected", map[string]interface{}{
			"messageId": t.MessageID,
			"status":    res.Status(),
		})
	}
}
