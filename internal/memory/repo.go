package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Record is a stored memory summary for one conversation.
type Record struct {
	ID             int
	ConversationID string
	CharacterID    string
	Summary        string
	Facts          []string
	Commitments    []string
	Salience       float64
	Embedding      []float32
	CreatedAt      time.Time
}

// Retrieved is a similarity search hit.
type Retrieved struct {
	Summary    string
	Similarity float64
	Salience   float64 `gorm:"column:salience_score"`
	CreatedAt  time.Time
}

// memoryModel maps to the memories table.
type memoryModel struct {
	ID             int
	ConversationID string
	CharacterID    string
	Summary        string
	Facts          json.RawMessage `gorm:"type:jsonb"`
	Commitments    json.RawMessage `gorm:"type:jsonb"`
	// Salience is a 0-1 importance score, used in ranking.
	Salience float64 `gorm:"column:salience_score"`
	// Embedding stores the vector representation for similarity search.
	Embedding *pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time
}

func (memoryModel) TableName() string {
	return "memories"
}

// Repo interface covers what the service needs from storage.
type Repo interface {
	AddMemory(ctx context.Context, rec Record) error
	SearchSimilar(ctx context.Context, conversationID string, embedding []float32, topK int, threshold float64) ([]Retrieved, error)
}

// PGRepo stores memories in PostgreSQL with pgvector similarity search.
type PGRepo struct {
	db *gorm.DB
}

func NewPGRepo(db *gorm.DB) (*PGRepo, error) {
	if err := db.AutoMigrate(&memoryModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate memories table: %w", err)
	}
	return &PGRepo{db: db}, nil
}

func (r *PGRepo) AddMemory(ctx context.Context, rec Record) error {
	var vector *pgvector.Vector
	if len(rec.Embedding) > 0 {
		v := pgvector.NewVector(rec.Embedding)
		vector = &v
	}
	facts, err := marshalJSON(rec.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode memory facts: %w", err)
	}
	commitments, err := marshalJSON(rec.Commitments)
	if err != nil {
		return fmt.Errorf("failed to encode memory commitments: %w", err)
	}
	record := memoryModel{
		ConversationID: rec.ConversationID,
		CharacterID:    rec.CharacterID,
		Summary:        rec.Summary,
		Facts:          facts,
		Commitments:    commitments,
		Salience:       rec.Salience,
		Embedding:      vector,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

func (r *PGRepo) SearchSimilar(ctx context.Context, conversationID string, embedding []float32, topK int, threshold float64) ([]Retrieved, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	// Filter by cosine similarity, then re-rank with salience mixed in.
	query := `
		SELECT summary, created_at,
		       1 - (embedding <=> $1) AS similarity,
		       COALESCE(salience_score, 0) AS salience_score
		FROM memories
		WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) > $2
		  AND conversation_id = $3
		ORDER BY (0.85 * (1 - (embedding <=> $1)) + 0.15 * COALESCE(salience_score, 0)) DESC
		LIMIT $4`

	var results []Retrieved
	if err := r.db.WithContext(ctx).
		Raw(query, pgvector.NewVector(embedding), threshold, conversationID, topK).
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar memories: %w", err)
	}
	return results, nil
}

func marshalJSON(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}
