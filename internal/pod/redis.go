package pod

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps documents as Redis sets of JSON facts and collections as
// sorted sets scored by a global insertion counter.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

// DialRedis connects using a redis:// or rediss:// URL and verifies the connection.
func DialRedis(ctx context.Context, rawURL string) (*RedisStore, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) keyDoc(doc string) string   { return "pod:doc:" + strings.TrimSpace(doc) }
func (s *RedisStore) keyColl(coll string) string { return "pod:coll:" + strings.TrimSpace(coll) }
func (s *RedisStore) keyDocs() string            { return "pod:docs" }
func (s *RedisStore) keySeq() string             { return "pod:seq" }

func (s *RedisStore) Fetch(ctx context.Context, url string) ([]Fact, error) {
	doc := DocumentOf(url)
	raws, err := s.rdb.SMembers(ctx, s.keyDoc(doc)).Result()
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		ok, err := s.rdb.SIsMember(ctx, s.keyDocs(), doc).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		return []Fact{}, nil
	}
	out := make([]Fact, 0, len(raws))
	for _, raw := range raws {
		var f Fact
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode fact in %s: %w", doc, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *RedisStore) Write(ctx context.Context, docURL string, facts []Fact) error {
	doc := DocumentOf(docURL)
	if strings.TrimSpace(doc) == "" {
		return ErrInvalidURL
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.keyDocs(), doc)
	if len(facts) > 0 {
		members := make([]any, 0, len(facts))
		for _, f := range facts {
			raw, err := json.Marshal(f)
			if err != nil {
				return err
			}
			members = append(members, string(raw))
		}
		pipe.SAdd(ctx, s.keyDoc(doc), members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, url string) error {
	doc := DocumentOf(url)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyDoc(doc))
	pipe.SRem(ctx, s.keyDocs(), doc)
	if parent := ParentOf(doc); parent != "" {
		pipe.ZRem(ctx, s.keyColl(parent), doc)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListTyped(ctx context.Context, collectionURL, typ string) ([]string, error) {
	members, err := s.rdb.ZRange(ctx, s.keyColl(collectionOf(collectionURL)), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return filterTyped(ctx, s, members, typ)
}

func (s *RedisStore) Post(ctx context.Context, collectionURL string, facts []Fact) (string, error) {
	if strings.TrimSpace(collectionURL) == "" {
		return "", ErrInvalidURL
	}
	url := newMemberURL(collectionURL)
	if err := s.Write(ctx, url, bindSubjects(url, facts)); err != nil {
		return "", err
	}
	seq, err := s.rdb.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return "", err
	}
	if err := s.rdb.ZAdd(ctx, s.keyColl(ParentOf(url)), redis.Z{Score: float64(seq), Member: url}).Err(); err != nil {
		return "", err
	}
	return url, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
