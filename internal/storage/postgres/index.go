package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// IndexStore persists the per-blog dedup index. The index is loaded
// once at job start and overwritten at job end; the engine never
// queries individual keys here.
type IndexStore struct {
	db *sqlx.DB
	tx *TxManager
}

func NewIndexStore(db *sqlx.DB) *IndexStore {
	return &IndexStore{db: db, tx: NewTxManager(db)}
}

func (s *IndexStore) Load(ctx context.Context, blogName string) ([]string, error) {
	var keys []string
	query := `SELECT key FROM dedup_index WHERE blog_name = $1`

	if err := s.db.SelectContext(ctx, &keys, query, blogName); err != nil {
		return nil, err
	}
	return keys, nil
}

// Save replaces the stored key set for the blog with the given one.
func (s *IndexStore) Save(ctx context.Context, blogName string, keys []string) error {
	return s.tx.WithTx(ctx, func(txCtx context.Context) error {
		ex := s.tx.Executor(txCtx)

		if _, err := ex.ExecContext(txCtx,
			`DELETE FROM dedup_index WHERE blog_name = $1`, blogName); err != nil {
			return err
		}

		if len(keys) == 0 {
			return nil
		}

		_, err := ex.ExecContext(txCtx,
			`INSERT INTO dedup_index (blog_name, key)
			 SELECT $1, unnest($2::text[])
			 ON CONFLICT DO NOTHING`,
			blogName, pq.Array(keys),
		)
		return err
	})
}
