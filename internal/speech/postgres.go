package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it for unit tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store against a Postgres mirror of the corpus.
type PostgresStore struct {
	pool Pool
}

// NewPostgres connects to the corpus database and verifies the expected
// schema is present.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	s := &PostgresStore{pool: pool}
	if err := s.verifySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresWithPool wraps an existing pool without schema verification.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) verifySchema(ctx context.Context) error {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT table_name FROM information_schema.views WHERE table_name = $1`, speechView,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return &SchemaError{Relation: speechView}
	}
	return eris.Wrap(err, "postgres: verify schema")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SpeechesByMember(ctx context.Context, memberID int) ([]Speech, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, text, knesset, session_number, date, person_id, topic, topic_extra, chair, qa
		FROM knesset_speeches_view
		WHERE person_id = $1
		ORDER BY date, id`, memberID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: speeches for member %d", memberID)
	}
	defer rows.Close()

	var speeches []Speech
	for rows.Next() {
		var (
			sp         Speech
			text       *string
			topic      *string
			topicExtra *string
		)
		if err := rows.Scan(&sp.ID, &sp.Name, &text, &sp.Session, &sp.SessionNumber,
			&sp.Date, &sp.MemberID, &topic, &topicExtra, &sp.Chair, &sp.QA); err != nil {
			return nil, eris.Wrap(err, "postgres: scan speech")
		}
		if text != nil {
			sp.Text = *text
		}
		if topic != nil {
			sp.Topic = *topic
		}
		if topicExtra != nil {
			sp.TopicExtra = *topicExtra
		}
		speeches = append(speeches, sp)
	}
	return speeches, eris.Wrap(rows.Err(), "postgres: iterate speeches")
}

func (s *PostgresStore) SpeechTexts(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, text FROM knesset_speeches_view WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: speech texts")
	}
	defer rows.Close()

	texts := make(map[int64]string, len(ids))
	for rows.Next() {
		var (
			id   int64
			text *string
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan speech text")
		}
		if text != nil {
			texts[id] = *text
		} else {
			texts[id] = ""
		}
	}
	return texts, eris.Wrap(rows.Err(), "postgres: iterate speech texts")
}

func (s *PostgresStore) SpeechMeta(ctx context.Context, id int64) (*SpeechMeta, error) {
	var (
		meta  SpeechMeta
		topic *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, date, topic, person_id FROM knesset_speeches_view WHERE id = $1`, id,
	).Scan(&meta.ID, &meta.Date, &topic, &meta.MemberID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: speech metadata %d", id)
	}
	if topic != nil {
		meta.Topic = *topic
	}
	return &meta, nil
}

func (s *PostgresStore) Member(ctx context.Context, id int) (*Person, error) {
	var (
		p         Person
		gender    *string
		faction   *string
		partyName *string
		dob       *string
		city      *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT DISTINCT person_id, first_name, surname, gender, faction, party_name, dob, city
		FROM people
		WHERE person_id = $1
		LIMIT 1`, id,
	).Scan(&p.ID, &p.FirstName, &p.Surname, &gender, &faction, &partyName, &dob, &city)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: member %d", id)
	}
	p.Name = p.FirstName + " " + p.Surname
	if gender != nil {
		p.Gender = *gender
	}
	if faction != nil {
		p.Faction = *faction
	}
	if partyName != nil {
		p.PartyName = *partyName
	}
	if dob != nil {
		p.DOB = *dob
	}
	if city != nil {
		p.City = *city
	}
	return &p, nil
}

func (s *PostgresStore) SearchMembers(ctx context.Context, name string) ([]Person, error) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(parts))
	args := make([]any, 0, len(parts))
	for i, part := range parts {
		conditions = append(conditions,
			fmt.Sprintf("(first_name ILIKE $%d OR surname ILIKE $%d)", i+1, i+1))
		args = append(args, "%"+part+"%")
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT person_id, first_name, surname, faction, party_name
		FROM people
		WHERE %s
		ORDER BY person_id`, strings.Join(conditions, " OR ")), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: search members %q", name)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var (
			p         Person
			faction   *string
			partyName *string
		)
		if err := rows.Scan(&p.ID, &p.FirstName, &p.Surname, &faction, &partyName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan member")
		}
		p.Name = p.FirstName + " " + p.Surname
		if faction != nil {
			p.Faction = *faction
		}
		if partyName != nil {
			p.PartyName = *partyName
		}
		people = append(people, p)
	}
	return people, eris.Wrap(rows.Err(), "postgres: iterate members")
}

func (s *PostgresStore) MemberIDs(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT person_id FROM people ORDER BY person_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: member ids")
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan member id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate member ids")
}
