// Package aggregate maintains the running per-member and per-topic stance
// statistics derived from scored speeches.
package aggregate

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/artifact"
	"github.com/stancelab/hansard-cli/internal/ledger"
	"github.com/stancelab/hansard-cli/internal/speech"
)

// TopicStat is one topic's rollup inside a member document.
type TopicStat struct {
	TopicName string  `json:"topicName"`
	Count     int     `json:"count"`
	Average   float64 `json:"average"`
}

// MemberDoc is the per-member aggregate document. Member metadata is
// looked up once, when the document is first created; later updates touch
// only the topic entries.
type MemberDoc struct {
	ID          int         `json:"id"`
	SiteID      int         `json:"knessetSiteId"`
	Name        string      `json:"name"`
	ImageURL    string      `json:"imageUrl"`
	Description string      `json:"description"`
	Topics      []TopicStat `json:"Topics"`
}

// TopicDoc maps member id to [count, average] for one topic.
type TopicDoc map[string][2]float64

// Engine updates the aggregate documents for scored (member, topic) pairs.
// Updates overwrite rather than accumulate, so repeating an update for the
// same pair is safe.
type Engine struct {
	members   MemberLookup
	memberDir string
	topicDir  string
}

// MemberLookup is the single corpus query the engine needs.
type MemberLookup func(id int) (*speech.Person, error)

// New returns an Engine writing member documents under memberDir and topic
// documents under topicDir.
func New(members MemberLookup, memberDir, topicDir string) *Engine {
	return &Engine{members: members, memberDir: memberDir, topicDir: topicDir}
}

// Update recomputes the pair's statistics from the full scored result set
// and overwrites both aggregate documents. An empty result set is a no-op.
func (e *Engine) Update(memberID int, topic string, rows []artifact.ScoredRow) error {
	if len(rows) == 0 {
		return nil
	}

	count := len(rows)
	var sum float64
	for _, row := range rows {
		sum += row.Rank
	}
	average := round2(sum / float64(count))

	if err := e.updateMemberDoc(memberID, topic, count, average); err != nil {
		return err
	}
	if err := e.updateTopicDoc(topic, memberID, count, average); err != nil {
		return err
	}

	zap.L().Info("aggregations updated",
		zap.Int("member_id", memberID),
		zap.String("topic", topic),
		zap.Int("count", count),
		zap.Float64("average", average))
	return nil
}

func (e *Engine) updateMemberDoc(memberID int, topic string, count int, average float64) error {
	file := ledger.NewFile[*MemberDoc](filepath.Join(e.memberDir, fmt.Sprint(memberID), "main.json"))

	doc, err := file.Load()
	if err != nil {
		return err
	}
	if doc == nil {
		person, err := e.members(memberID)
		if err != nil {
			return eris.Wrapf(err, "aggregate: member metadata %d", memberID)
		}
		if person == nil {
			return eris.Errorf("aggregate: no metadata for member %d", memberID)
		}
		doc = &MemberDoc{
			ID:          memberID,
			SiteID:      memberID,
			Name:        person.Name,
			Description: fmt.Sprintf("Faction: %s, Party: %s", orNA(person.Faction), orNA(person.PartyName)),
		}
	}

	found := false
	for i := range doc.Topics {
		if doc.Topics[i].TopicName == topic {
			doc.Topics[i].Count = count
			doc.Topics[i].Average = average
			found = true
			break
		}
	}
	if !found {
		doc.Topics = append(doc.Topics, TopicStat{TopicName: topic, Count: count, Average: average})
	}

	return file.Save(doc)
}

func (e *Engine) updateTopicDoc(topic string, memberID int, count int, average float64) error {
	file := ledger.NewFile[TopicDoc](filepath.Join(e.topicDir, topic+".json"))

	doc, err := file.Load()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = TopicDoc{}
	}
	doc[fmt.Sprint(memberID)] = [2]float64{float64(count), average}

	return file.Save(doc)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
