package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"renderdesk/internal/httpkit"
)

// Querier is the slice of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProfileRepository reads tenant assignments from the profiles table.
type ProfileRepository struct {
	db Querier
}

func NewProfileRepository(db Querier) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ClientForUser returns the client assigned to userID. A missing profile, a
// NULL client, or a deployment without the profiles table all yield "".
func (r *ProfileRepository) ClientForUser(ctx context.Context, userID string) (string, error) {
	var client string
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(client, '')
		FROM profiles
		WHERE id = $1
	`, userID).Scan(&client)

	switch {
	case err == nil:
		return strings.TrimSpace(client), nil
	case errors.Is(err, pgx.ErrNoRows), httpkit.IsUndefinedTable(err):
		return "", nil
	default:
		return "", err
	}
}
