package speech

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// speechView is the consolidated view joining speeches to their speakers.
const speechView = "knesset_speeches_view"

// SQLiteStore implements Store against a read-only SQLite corpus file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the corpus database in read-only mode and verifies the
// expected schema is present.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "sqlite: corpus database %s", path)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	var name string
	err = db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'view' AND name = ?`, speechView,
	).Scan(&name)
	if err == sql.ErrNoRows {
		db.Close()
		return nil, &SchemaError{Relation: speechView}
	}
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: verify schema")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SpeechesByMember(ctx context.Context, memberID int) ([]Speech, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, text, knesset, session_number, date, person_id, topic, topic_extra, chair, qa
		FROM knesset_speeches_view
		WHERE person_id = ?
		ORDER BY date, id`, memberID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: speeches for member %d", memberID)
	}
	defer rows.Close()

	var speeches []Speech
	for rows.Next() {
		var (
			sp            Speech
			text          sql.NullString
			sessionNumber sql.NullInt64
			topic         sql.NullString
			topicExtra    sql.NullString
			qa            sql.NullInt64
		)
		if err := rows.Scan(&sp.ID, &sp.Name, &text, &sp.Session, &sessionNumber,
			&sp.Date, &sp.MemberID, &topic, &topicExtra, &sp.Chair, &qa); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan speech")
		}
		sp.Text = text.String
		sp.Topic = topic.String
		sp.TopicExtra = topicExtra.String
		if sessionNumber.Valid {
			n := int(sessionNumber.Int64)
			sp.SessionNumber = &n
		}
		if qa.Valid {
			n := int(qa.Int64)
			sp.QA = &n
		}
		speeches = append(speeches, sp)
	}
	return speeches, eris.Wrap(rows.Err(), "sqlite: iterate speeches")
}

func (s *SQLiteStore) SpeechTexts(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, text FROM knesset_speeches_view WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: speech texts")
	}
	defer rows.Close()

	texts := make(map[int64]string, len(ids))
	for rows.Next() {
		var (
			id   int64
			text sql.NullString
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan speech text")
		}
		texts[id] = text.String
	}
	return texts, eris.Wrap(rows.Err(), "sqlite: iterate speech texts")
}

func (s *SQLiteStore) SpeechMeta(ctx context.Context, id int64) (*SpeechMeta, error) {
	var (
		meta  SpeechMeta
		topic sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, date, topic, person_id FROM knesset_speeches_view WHERE id = ?`, id,
	).Scan(&meta.ID, &meta.Date, &topic, &meta.MemberID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: speech metadata %d", id)
	}
	meta.Topic = topic.String
	return &meta, nil
}

func (s *SQLiteStore) Member(ctx context.Context, id int) (*Person, error) {
	var (
		p         Person
		gender    sql.NullString
		faction   sql.NullString
		partyName sql.NullString
		dob       sql.NullString
		city      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT DISTINCT person_id, first_name, surname, gender, faction, party_name, dob, city
		FROM people
		WHERE person_id = ?
		LIMIT 1`, id,
	).Scan(&p.ID, &p.FirstName, &p.Surname, &gender, &faction, &partyName, &dob, &city)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: member %d", id)
	}
	p.Name = p.FirstName + " " + p.Surname
	p.Gender = gender.String
	p.Faction = faction.String
	p.PartyName = partyName.String
	p.DOB = dob.String
	p.City = city.String
	return &p, nil
}

func (s *SQLiteStore) SearchMembers(ctx context.Context, name string) ([]Person, error) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(parts))
	args := make([]any, 0, len(parts)*2)
	for _, part := range parts {
		conditions = append(conditions, "(first_name LIKE ? OR surname LIKE ?)")
		pattern := "%" + part + "%"
		args = append(args, pattern, pattern)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT person_id, first_name, surname, faction, party_name
		FROM people
		WHERE %s
		ORDER BY person_id`, strings.Join(conditions, " OR ")), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: search members %q", name)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var (
			p         Person
			faction   sql.NullString
			partyName sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.FirstName, &p.Surname, &faction, &partyName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan member")
		}
		p.Name = p.FirstName + " " + p.Surname
		p.Faction = faction.String
		p.PartyName = partyName.String
		people = append(people, p)
	}
	return people, eris.Wrap(rows.Err(), "sqlite: iterate members")
}

func (s *SQLiteStore) MemberIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT person_id FROM people ORDER BY person_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: member ids")
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan member id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate member ids")
}
