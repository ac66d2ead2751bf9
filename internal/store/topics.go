package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Topic link methods record how a bill/topic association was produced.
const (
	TopicMethodClosedVocab = "closed_vocab"
	TopicMethodAI          = "ai"
	TopicMethodHeuristic   = "heuristic"
)

// Topic lifecycle statuses. Canonical topics are active; open-vocabulary
// topics start as drafts until someone promotes them.
const (
	TopicStatusActive = "active"
	TopicStatusDraft  = "draft"
)

// HotTopic is a per-session tagging vocabulary entry. Closed-vocabulary
// topics carry a fixed slug; open-vocabulary topics are created on demand.
// ParentSlug points at an optional broader topic in the same session.
type HotTopic struct {
	ID          string
	Session     string
	Slug        string
	Label       string
	Description string
	ParentSlug  string
	Status      string
	CreatedAt   time.Time
}

// HotTopicLink associates a bill with a topic. TriggerSnippet holds the
// passage that prompted the assignment when the classifier reported one.
type HotTopicLink struct {
	CivicItemID    string
	TopicID        string
	Confidence     float64
	Method         string
	TriggerSnippet string
	CreatedAt      time.Time
}

// UpsertHotTopic creates or refreshes a topic keyed on (session, slug) and
// returns the stored row. An empty Status defaults to active. Description
// and parent only overwrite when the new row carries them, so a later bare
// upsert cannot blank out curated metadata.
func (s *Store) UpsertHotTopic(ctx context.Context, topic HotTopic) (HotTopic, error) {
	if topic.Status == "" {
		topic.Status = TopicStatusActive
	}
	var out HotTopic
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO hot_topics (session, slug, label, description, parent_slug, status)
VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6)
ON CONFLICT (session, slug) DO UPDATE SET
  label       = EXCLUDED.label,
  description = COALESCE(EXCLUDED.description, hot_topics.description),
  parent_slug = COALESCE(EXCLUDED.parent_slug, hot_topics.parent_slug)
RETURNING id, session, slug, label, COALESCE(description,''), COALESCE(parent_slug,''), status, created_at;
`, topic.Session, topic.Slug, topic.Label, topic.Description, topic.ParentSlug, topic.Status).
		Scan(&out.ID, &out.Session, &out.Slug, &out.Label, &out.Description, &out.ParentSlug, &out.Status, &out.CreatedAt)
	return out, err
}

// GetHotTopic fetches one topic by session and slug. Bool indicates
// existence.
func (s *Store) GetHotTopic(ctx context.Context, session, slug string) (HotTopic, bool, error) {
	var topic HotTopic
	err := s.DB.QueryRowContext(ctx, `
SELECT id, session, slug, label, COALESCE(description,''), COALESCE(parent_slug,''), status, created_at
FROM hot_topics WHERE session=$1 AND slug=$2
`, session, slug).Scan(&topic.ID, &topic.Session, &topic.Slug, &topic.Label,
		&topic.Description, &topic.ParentSlug, &topic.Status, &topic.CreatedAt)
	if err == sql.ErrNoRows {
		return HotTopic{}, false, nil
	}
	if err != nil {
		return HotTopic{}, false, err
	}
	return topic, true, nil
}

// CountTopicLinks returns how many links already exist between the item and
// topic. Idempotent tagging counts before inserting.
func (s *Store) CountTopicLinks(ctx context.Context, itemID, topicID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM hot_topic_links WHERE civic_item_id=$1 AND topic_id=$2
`, itemID, topicID).Scan(&n)
	return n, err
}

// CountOpenVocabLinks returns how many topic links the item has outside
// the closed vocabulary. Open-vocabulary tagging treats any such link as a
// signal the open pass already ran; closed-vocabulary links say nothing
// about it, both passes run on the same bill.
func (s *Store) CountOpenVocabLinks(ctx context.Context, itemID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM hot_topic_links WHERE civic_item_id=$1 AND method <> $2
`, itemID, TopicMethodClosedVocab).Scan(&n)
	return n, err
}

// InsertTopicLink records one bill/topic association.
func (s *Store) InsertTopicLink(ctx context.Context, link HotTopicLink) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO hot_topic_links (civic_item_id, topic_id, confidence, method, trigger_snippet)
VALUES ($1,$2,$3,$4,NULLIF($5,''))
`, link.CivicItemID, link.TopicID, link.Confidence, link.Method, link.TriggerSnippet)
	return err
}

// DeleteStaleTopicLinks removes links of the given method whose topic slug
// is no longer in keepSlugs. Rerunning the tagger against fresh model output
// would otherwise accumulate tags the model no longer assigns.
func (s *Store) DeleteStaleTopicLinks(ctx context.Context, itemID, method string, keepSlugs []string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM hot_topic_links l
USING hot_topics t
WHERE l.topic_id = t.id
  AND l.civic_item_id = $1
  AND l.method = $2
  AND NOT (t.slug = ANY($3));
`, itemID, method, pq.Array(keepSlugs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListTopicsForItem returns topics linked to the item with link metadata.
func (s *Store) ListTopicsForItem(ctx context.Context, itemID string) ([]HotTopic, []HotTopicLink, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.id, t.session, t.slug, t.label, COALESCE(t.description,''), COALESCE(t.parent_slug,''), t.status, t.created_at,
       l.civic_item_id, l.confidence, l.method, COALESCE(l.trigger_snippet,''), l.created_at
FROM hot_topic_links l
JOIN hot_topics t ON t.id = l.topic_id
WHERE l.civic_item_id=$1
ORDER BY t.slug
`, itemID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var topics []HotTopic
	var links []HotTopicLink
	for rows.Next() {
		var t HotTopic
		var l HotTopicLink
		if err := rows.Scan(&t.ID, &t.Session, &t.Slug, &t.Label, &t.Description, &t.ParentSlug, &t.Status, &t.CreatedAt,
			&l.CivicItemID, &l.Confidence, &l.Method, &l.TriggerSnippet, &l.CreatedAt); err != nil {
			return nil, nil, err
		}
		l.TopicID = t.ID
		topics = append(topics, t)
		links = append(links, l)
	}
	return topics, links, rows.Err()
}
