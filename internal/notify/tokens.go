// README: Push token registry.
package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"lifeline/internal/types"
)

type PGTokenStore struct {
	db *pgxpool.Pool
}

func NewPGTokenStore(db *pgxpool.Pool) *PGTokenStore {
	return &PGTokenStore{db: db}
}

// RegisterToken upserts a device token for a user. A token moving between
// users (shared device) follows the latest registration.
func (s *PGTokenStore) RegisterToken(ctx context.Context, userID types.ID, token string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO push_tokens (user_id, token, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id`,
		string(userID), token,
	)
	return err
}

func (s *PGTokenStore) ExpoTokens(ctx context.Context, userID types.ID) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT token FROM push_tokens WHERE user_id = $1`, string(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
