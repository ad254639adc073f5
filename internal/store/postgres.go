/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

// Tx is an open relational transaction. Instances created through
// Begin must be finished with Commit or Rollback; rolling back an
// already committed transaction is a harmless no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Postgres is the relational store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and pings the database.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Begin opens a transaction.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to begin transaction", err)
	}
	return tx, nil
}

// pgxTx unwraps the opaque Tx back into a queryable pgx transaction.
// Only transactions produced by Begin are ever passed back in.
func pgxTx(tx Tx) pgx.Tx {
	return tx.(pgx.Tx)
}

// GetChallenge loads a full challenge definition by id.
func (p *Postgres) GetChallenge(ctx context.Context, id int64) (*Challenge, error) {
	var (
		ch         Challenge
		deployJSON []byte
	)

	err := p.pool.QueryRow(ctx, `
		SELECT id, name, flag, author, category, description, points,
		       hidden, dynamic_flag, hints, deploy
		FROM challenges
		WHERE id = $1
	`, id).Scan(
		&ch.ID, &ch.Name, &ch.Flag, &ch.Author, &ch.Category, &ch.Description,
		&ch.Points, &ch.Hidden, &ch.DynamicFlag, &ch.Hints, &deployJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("No challenge was found with that id.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to load challenge", err)
	}

	if len(deployJSON) > 0 {
		var deploy challenge.DeploySpec
		if err := json.Unmarshal(deployJSON, &deploy); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "failed to decode deploy spec", err)
		}
		ch.Deploy = &deploy
	}

	return &ch, nil
}

// CreateChallenge inserts a challenge definition and returns its id.
func (p *Postgres) CreateChallenge(ctx context.Context, ch *Challenge) (int64, error) {
	var deployJSON []byte
	if ch.Deploy != nil {
		var err error
		deployJSON, err = json.Marshal(ch.Deploy)
		if err != nil {
			return 0, apperr.Wrap(apperr.KindInternal, "failed to encode deploy spec", err)
		}
	}

	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO challenges(name, flag, author, category, description, points,
		                       hidden, dynamic_flag, hints, deploy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, ch.Name, ch.Flag, ch.Author, ch.Category, ch.Description, ch.Points,
		ch.Hidden, ch.DynamicFlag, ch.Hints, deployJSON,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, apperr.New(apperr.KindConflict, "Challenge with the same name already exists.")
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "failed to create challenge", err)
	}

	return id, nil
}

// ListChallenges returns the public view of every visible challenge,
// with the caller's solved status and running instance attached.
func (p *Postgres) ListChallenges(ctx context.Context, userID int64) ([]ChallengeSummary, error) {
	rows, err := p.pool.Query(ctx, `
		WITH solved_challenges AS (
			SELECT DISTINCT ON (challenge_id) challenge_id
			FROM submissions
			WHERE user_id = $1 AND is_correct = TRUE
		)
		SELECT c.id, c.name, c.author, c.category, c.description, c.points,
		       c.hints, s.challenge_id IS NOT NULL AS solved,
		       CASE WHEN rc.id IS NULL THEN NULL ELSE c.deploy END,
		       rc.id, rc.start_time, rc.end_time
		FROM challenges c
		LEFT JOIN solved_challenges s ON s.challenge_id = c.id
		LEFT JOIN running_challenges rc ON rc.challenge_id = c.id AND rc.user_id = $1
		WHERE c.hidden = FALSE
		ORDER BY c.id
	`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to list challenges", err)
	}
	defer rows.Close()

	var summaries []ChallengeSummary
	for rows.Next() {
		var (
			summary    ChallengeSummary
			deployJSON []byte
			instanceID *string
			startTime  *time.Time
			endTime    *time.Time
		)

		if err := rows.Scan(
			&summary.ID, &summary.Name, &summary.Author, &summary.Category,
			&summary.Description, &summary.Points, &summary.Hints, &summary.Solved,
			&deployJSON, &instanceID, &startTime, &endTime,
		); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "failed to scan challenge row", err)
		}

		if len(deployJSON) > 0 && instanceID != nil {
			var deploy challenge.DeploySpec
			if err := json.Unmarshal(deployJSON, &deploy); err != nil {
				return nil, apperr.Wrap(apperr.KindDatabase, "failed to decode deploy spec", err)
			}
			summary.Deploy = &deploy
			summary.Instance = &RunningInstance{
				ID:          *instanceID,
				ChallengeID: summary.ID,
				UserID:      userID,
				StartTime:   *startTime,
				EndTime:     *endTime,
			}
		}

		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to list challenges", err)
	}

	return summaries, nil
}

// GetChallengeSummary returns the public view of one visible
// challenge, with the caller's solved status and running instance
// attached. Hidden challenges are reported as absent.
func (p *Postgres) GetChallengeSummary(ctx context.Context, challengeID, userID int64) (*ChallengeSummary, error) {
	var (
		summary    ChallengeSummary
		deployJSON []byte
		instanceID *string
		startTime  *time.Time
		endTime    *time.Time
	)

	err := p.pool.QueryRow(ctx, `
		SELECT c.id, c.name, c.author, c.category, c.description, c.points,
		       c.hints,
		       EXISTS (
			       SELECT 1 FROM submissions s
			       WHERE s.challenge_id = c.id AND s.user_id = $2 AND s.is_correct = TRUE
		       ) AS solved,
		       CASE WHEN rc.id IS NULL THEN NULL ELSE c.deploy END,
		       rc.id, rc.start_time, rc.end_time
		FROM challenges c
		LEFT JOIN running_challenges rc ON rc.challenge_id = c.id AND rc.user_id = $2
		WHERE c.id = $1 AND c.hidden = FALSE
	`, challengeID, userID).Scan(
		&summary.ID, &summary.Name, &summary.Author, &summary.Category,
		&summary.Description, &summary.Points, &summary.Hints, &summary.Solved,
		&deployJSON, &instanceID, &startTime, &endTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("No challenge was found with that id.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to load challenge", err)
	}

	if len(deployJSON) > 0 && instanceID != nil {
		var deploy challenge.DeploySpec
		if err := json.Unmarshal(deployJSON, &deploy); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "failed to decode deploy spec", err)
		}
		summary.Deploy = &deploy
		summary.Instance = &RunningInstance{
			ID:          *instanceID,
			ChallengeID: summary.ID,
			UserID:      userID,
			StartTime:   *startTime,
			EndTime:     *endTime,
		}
	}

	return &summary, nil
}

// UserInstances returns the ids of the caller's running instances,
// read within tx so the one-instance check and the insert observe the
// same snapshot.
func (p *Postgres) UserInstances(ctx context.Context, tx Tx, userID int64) ([]string, error) {
	rows, err := pgxTx(tx).Query(ctx, `
		SELECT id FROM running_challenges WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to query running instances", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, "failed to scan instance id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to query running instances", err)
	}

	return ids, nil
}

// InsertInstance inserts the running-instance row within tx and fills
// in the database-assigned start and end times.
func (p *Postgres) InsertInstance(ctx context.Context, tx Tx, inst *RunningInstance) error {
	err := pgxTx(tx).QueryRow(ctx, `
		INSERT INTO running_challenges(id, challenge_id, user_id, flag)
		VALUES ($1, $2, $3, $4)
		RETURNING start_time, end_time
	`, inst.ID, inst.ChallengeID, inst.UserID, inst.Flag).Scan(&inst.StartTime, &inst.EndTime)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindAlreadyExists, "An instance with this id already exists.")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "failed to insert running instance", err)
	}
	return nil
}

// InstanceOwner returns the owning user of an instance, read within tx.
func (p *Postgres) InstanceOwner(ctx context.Context, tx Tx, instanceID string) (int64, error) {
	var userID int64
	err := pgxTx(tx).QueryRow(ctx, `
		SELECT user_id FROM running_challenges WHERE id = $1
	`, instanceID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("No running instance found with this ID.")
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "failed to load running instance", err)
	}
	return userID, nil
}

// DeleteInstanceTx removes the running-instance row within tx.
func (p *Postgres) DeleteInstanceTx(ctx context.Context, tx Tx, instanceID string) error {
	if _, err := pgxTx(tx).Exec(ctx, `
		DELETE FROM running_challenges WHERE id = $1
	`, instanceID); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "failed to delete running instance", err)
	}
	return nil
}

// DeleteInstance removes the running-instance row outside of any
// transaction.
func (p *Postgres) DeleteInstance(ctx context.Context, instanceID string) error {
	if _, err := p.pool.Exec(ctx, `
		DELETE FROM running_challenges WHERE id = $1
	`, instanceID); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "failed to delete running instance", err)
	}
	return nil
}

// InstanceForSubmit loads the challenge id and flag snapshot of the
// instance, scoped to the calling user so submissions against foreign
// instances surface as not found.
func (p *Postgres) InstanceForSubmit(ctx context.Context, instanceID string, userID int64) (*RunningInstance, error) {
	inst := RunningInstance{ID: instanceID, UserID: userID}
	err := p.pool.QueryRow(ctx, `
		SELECT challenge_id, flag
		FROM running_challenges
		WHERE id = $1 AND user_id = $2
	`, instanceID, userID).Scan(&inst.ChallengeID, &inst.Flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("No running instance found with this ID.")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to load running instance", err)
	}
	return &inst, nil
}

// AddSubmission appends one flag-submission attempt.
func (p *Postgres) AddSubmission(ctx context.Context, sub *Submission) error {
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO submissions(user_id, challenge_id, is_correct, answer)
		VALUES ($1, $2, $3, $4)
	`, sub.UserID, sub.ChallengeID, sub.IsCorrect, sub.Answer); err != nil {
		return apperr.Wrap(apperr.KindDatabase, "failed to record submission", err)
	}
	return nil
}

// CreateUser inserts an account row and returns its id.
func (p *Postgres) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users(name, email, password)
		VALUES ($1, $2, $3)
		RETURNING id
	`, name, email, passwordHash).Scan(&id)
	if isUniqueViolation(err) {
		return 0, apperr.New(apperr.KindAlreadyExists, "User with the same email already exists.")
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabase, "failed to create user", err)
	}
	return id, nil
}

// UserByEmail loads an account by email for login.
func (p *Postgres) UserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, email, password, role
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, "failed to load user", err)
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
