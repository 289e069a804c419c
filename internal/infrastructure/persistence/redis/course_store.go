package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// courseDocument is the JSON stored at course:{id}.
type courseDocument struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Credits     int       `json:"credits"`
	Members     []int64   `json:"members"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func documentFromCourse(c *course.Course) courseDocument {
	doc := courseDocument{
		ID:          int64(c.ID),
		Name:        c.Name,
		Description: c.Description,
		Credits:     c.Credits,
		Members:     make([]int64, 0, len(c.Memberships)),
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for id := range c.MembershipUserIDs() {
		doc.Members = append(doc.Members, int64(id))
	}
	return doc
}

func (d courseDocument) toCourse() *course.Course {
	c := &course.Course{
		ID:          course.ID(d.ID),
		Name:        d.Name,
		Description: d.Description,
		Credits:     d.Credits,
		Memberships: make([]course.Membership, 0, len(d.Members)),
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, id := range d.Members {
		c.Memberships = append(c.Memberships, course.Membership{UserID: user.ID(id)})
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE STORE
// ══════════════════════════════════════════════════════════════════════════════

// CourseStore implements course.Repository on Redis. Save is a
// compare-and-swap built on WATCH/MULTI/EXEC.
type CourseStore struct {
	client *Client
	now    func() time.Time
}

var _ course.Repository = (*CourseStore)(nil)

// NewCourseStore creates a new Redis course store.
func NewCourseStore(client *Client) *CourseStore {
	return &CourseStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get implements course.Repository.
func (s *CourseStore) Get(ctx context.Context, id course.ID) (*course.Course, error) {
	data, err := s.client.rdb.Get(ctx, s.client.CourseKey(int64(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}

	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	return doc.toCourse(), nil
}

// List implements course.Repository.
func (s *CourseStore) List(ctx context.Context) ([]*course.Course, error) {
	ids, err := s.client.rdb.ZRange(ctx, s.client.IndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list course index: %w", err)
	}
	if len(ids) == 0 {
		return []*course.Course{}, nil
	}

	keys := make([]string, len(ids))
	for i, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: index member %q", ErrSerialization, raw)
		}
		keys[i] = s.client.CourseKey(id)
	}

	values, err := s.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	courses := make([]*course.Course, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		doc, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		courses = append(courses, doc.toCourse())
	}
	return courses, nil
}

// Save implements course.Repository.
func (s *CourseStore) Save(ctx context.Context, c *course.Course) (*course.Course, error) {
	doc := documentFromCourse(c)

	// Only an insert under a caller-chosen id can move the sequence, so only
	// that path watches it. Updates touch nothing but their own key.
	explicitID := doc.ID != 0 && doc.Version == 0

	if doc.ID == 0 {
		if doc.Version != 0 {
			return nil, shared.ErrCourseNotFound
		}
		id, err := s.client.rdb.Incr(ctx, s.client.SeqKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("allocate course id: %w", err)
		}
		doc.ID = id
	}

	key := s.client.CourseKey(doc.ID)
	seqKey := s.client.SeqKey()
	watched := []string{key}
	if explicitID {
		watched = append(watched, seqKey)
	}

	err := s.client.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, exists, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}

		now := s.now()
		switch {
		case doc.Version == 0 && exists:
			return shared.ErrVersionConflict
		case doc.Version == 0:
			doc.CreatedAt = now
		case !exists:
			return shared.ErrCourseNotFound
		case stored.Version != doc.Version:
			return shared.ErrVersionConflict
		default:
			doc.CreatedAt = stored.CreatedAt
		}
		doc.Version++
		doc.UpdatedAt = now

		var bumpSeq bool
		if explicitID {
			seq, err := tx.Get(ctx, seqKey).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			bumpSeq = seq < doc.ID
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.client.IndexKey(), redis.Z{Score: float64(doc.ID), Member: doc.ID})
			if bumpSeq {
				pipe.Set(ctx, seqKey, doc.ID, 0)
			}
			return nil
		})
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, shared.ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, shared.ErrVersionConflict) || errors.Is(err, shared.ErrCourseNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("save course: %w", err)
	}

	return doc.toCourse(), nil
}

// Delete implements course.Repository.
func (s *CourseStore) Delete(ctx context.Context, id course.ID) error {
	var del *redis.IntCmd
	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.client.CourseKey(int64(id)))
		pipe.ZRem(ctx, s.client.IndexKey(), int64(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if del.Val() == 0 {
		return shared.ErrCourseNotFound
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *CourseStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *CourseStore) load(ctx context.Context, tx *redis.Tx, key string) (courseDocument, bool, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return courseDocument{}, false, nil
	}
	if err != nil {
		return courseDocument{}, false, err
	}
	doc, err := decode(data)
	return doc, err == nil, err
}

func decode(data []byte) (courseDocument, error) {
	var doc courseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return courseDocument{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return doc, nil
}
