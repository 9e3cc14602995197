package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// ─── Weekly Quest Documents ─────────────────────────────────────────────────

// GetQuestDoc returns the (user, week) document, or nil when absent.
func (d *DB) GetQuestDoc(ctx context.Context, userID, weekID string) (*domain.WeeklyQuestDocument, error) {
	var (
		doc                   domain.WeeklyQuestDocument
		start, end, createdAt int64
		questsJSON, keysJSON  string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, week_id, week_start, week_end, quests, quest_keys, created_at, version
		 FROM quest_docs WHERE user_id = ? AND week_id = ?`,
		userID, weekID,
	).Scan(&doc.UserID, &doc.WeekID, &start, &end, &questsJSON, &keysJSON, &createdAt, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quest doc: %w", err)
	}

	if err := json.Unmarshal([]byte(questsJSON), &doc.Quests); err != nil {
		return nil, fmt.Errorf("decode quests %s/%s: %w", userID, weekID, err)
	}
	if err := json.Unmarshal([]byte(keysJSON), &doc.QuestKeys); err != nil {
		return nil, fmt.Errorf("decode quest keys %s/%s: %w", userID, weekID, err)
	}
	doc.WeekStart = fromUnix(start)
	doc.WeekEnd = fromUnix(end)
	doc.CreatedAt = fromUnix(createdAt)
	return &doc, nil
}

// InsertQuestDoc stores a freshly generated document.
// Returns false if the (user, week) document already exists.
func (d *DB) InsertQuestDoc(ctx context.Context, doc domain.WeeklyQuestDocument) (bool, error) {
	questsJSON, keysJSON, err := encodeQuests(doc)
	if err != nil {
		return false, err
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO quest_docs (user_id, week_id, week_start, week_end, quests, quest_keys, created_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, week_id) DO NOTHING`,
		doc.UserID, doc.WeekID, doc.WeekStart.Unix(), doc.WeekEnd.Unix(),
		questsJSON, keysJSON, doc.CreatedAt.Unix(), doc.Version,
	)
	if err != nil {
		return false, fmt.Errorf("insert quest doc: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CommitQuestProgress swaps the document's quests by version and, when prog
// is non-nil, the progression, in one transaction.
func (d *DB) CommitQuestProgress(ctx context.Context, doc domain.WeeklyQuestDocument, prog *domain.Progression) error {
	questsJSON, _, err := encodeQuests(doc)
	if err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE quest_docs SET quests = ?, version = version + 1
			 WHERE user_id = ? AND week_id = ? AND version = ?`,
			questsJSON, doc.UserID, doc.WeekID, doc.Version,
		)
		if err != nil {
			return fmt.Errorf("update quest doc: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("quest doc %s/%s at version %d: %w",
				doc.UserID, doc.WeekID, doc.Version, domain.ErrStorageConflict)
		}

		if prog != nil {
			return swapProgression(ctx, tx, *prog)
		}
		return nil
	})
}

func encodeQuests(doc domain.WeeklyQuestDocument) (quests, keys string, err error) {
	q, err := json.Marshal(doc.Quests)
	if err != nil {
		return "", "", fmt.Errorf("encode quests: %w", err)
	}
	k, err := json.Marshal(doc.QuestKeys)
	if err != nil {
		return "", "", fmt.Errorf("encode quest keys: %w", err)
	}
	return string(q), string(k), nil
}
