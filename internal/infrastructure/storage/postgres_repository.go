package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"pulsefeed/internal/domain"
	"pulsefeed/internal/ports"
)

// PostgresRepository persists canonical content, feed descriptors, and fetch
// logs. Dedup is enforced by the unique hash index; duplicate inserts come
// back as (nil, nil), distinct from every other failure mode.
type PostgresRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ContentRepository = (*PostgresRepository)(nil)
var _ ports.FeedRepository = (*PostgresRepository)(nil)
var _ ports.FetchLogRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// CreateArticle inserts the article and returns it with its assigned ID, or
// (nil, nil) when the hash already exists.
func (r *PostgresRepository) CreateArticle(ctx context.Context, article *domain.CanonicalArticle) (*domain.CanonicalArticle, error) {
	query, args, err := r.builder.
		Insert("articles").
		Columns("hash", "title", "summary", "content", "author", "source_name",
			"source_url", "feed_url", "published_at", "fetched_at", "category",
			"tags", "is_breaking", "read_time", "status", "view_count",
			"language", "image_url").
		Values(article.Hash, article.Title, article.Summary, article.Content,
			article.Author, article.SourceName, article.SourceURL, article.FeedURL,
			article.PublishedAt, article.FetchedAt, article.Category,
			pq.StringArray(article.Tags), article.IsBreaking, article.ReadTime,
			string(article.Status), article.ViewCount, article.Language,
			article.ImageURL).
		Suffix("ON CONFLICT (hash) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert article: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert article: %w", err)
	}

	stored := *article
	stored.ID = id
	return &stored, nil
}

// CreateVideo inserts the video, or returns (nil, nil) on a duplicate hash.
func (r *PostgresRepository) CreateVideo(ctx context.Context, video *domain.CanonicalVideo) (*domain.CanonicalVideo, error) {
	query, args, err := r.builder.
		Insert("videos").
		Columns("hash", "video_id", "title", "description", "channel_name",
			"channel_id", "source_url", "feed_url", "published_at", "fetched_at",
			"category", "tags", "duration", "view_count", "like_count",
			"comment_count", "status", "language", "thumbnail_url").
		Values(video.Hash, video.VideoID, video.Title, video.Description,
			video.ChannelName, video.ChannelID, video.SourceURL, video.FeedURL,
			video.PublishedAt, video.FetchedAt, video.Category,
			pq.StringArray(video.Tags), video.Duration, video.ViewCount,
			video.LikeCount, video.CommentCount, string(video.Status),
			video.Language, video.ThumbnailURL).
		Suffix("ON CONFLICT (hash) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert video: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert video: %w", err)
	}

	stored := *video
	stored.ID = id
	return &stored, nil
}

// ListArticles returns one page sorted newest-published-first plus the total
// count matching the filters.
func (r *PostgresRepository) ListArticles(ctx context.Context, filters ports.ContentFilters, page, limit int) ([]domain.CanonicalArticle, int, error) {
	base := r.builder.
		Select("id", "hash", "title", "summary", "content", "author",
			"source_name", "source_url", "feed_url", "published_at", "fetched_at",
			"category", "tags", "is_breaking", "read_time", "status",
			"view_count", "language", "image_url").
		From("articles")
	base = applyArticleFilters(base, filters)

	query, args, err := base.
		OrderBy("published_at DESC").
		Limit(uint64(limit)).
		Offset(pageOffset(page, limit)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list articles: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.CanonicalArticle
	for rows.Next() {
		var a domain.CanonicalArticle
		var tags pq.StringArray
		var status string
		if err := rows.Scan(&a.ID, &a.Hash, &a.Title, &a.Summary, &a.Content,
			&a.Author, &a.SourceName, &a.SourceURL, &a.FeedURL, &a.PublishedAt,
			&a.FetchedAt, &a.Category, &tags, &a.IsBreaking, &a.ReadTime,
			&status, &a.ViewCount, &a.Language, &a.ImageURL); err != nil {
			return nil, 0, fmt.Errorf("scan article: %w", err)
		}
		a.Tags = tags
		a.Status = domain.ContentStatus(status)
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	total, err := r.countWithFilters(ctx, "articles", filters)
	if err != nil {
		return nil, 0, err
	}

	return articles, total, nil
}

// ListVideos mirrors ListArticles for the video collection.
func (r *PostgresRepository) ListVideos(ctx context.Context, filters ports.ContentFilters, page, limit int) ([]domain.CanonicalVideo, int, error) {
	base := r.builder.
		Select("id", "hash", "video_id", "title", "description", "channel_name",
			"channel_id", "source_url", "feed_url", "published_at", "fetched_at",
			"category", "tags", "duration", "view_count", "like_count",
			"comment_count", "status", "language", "thumbnail_url").
		From("videos")
	base = applyVideoFilters(base, filters)

	query, args, err := base.
		OrderBy("published_at DESC").
		Limit(uint64(limit)).
		Offset(pageOffset(page, limit)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list videos: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var videos []domain.CanonicalVideo
	for rows.Next() {
		var v domain.CanonicalVideo
		var tags pq.StringArray
		var status string
		if err := rows.Scan(&v.ID, &v.Hash, &v.VideoID, &v.Title, &v.Description,
			&v.ChannelName, &v.ChannelID, &v.SourceURL, &v.FeedURL,
			&v.PublishedAt, &v.FetchedAt, &v.Category, &tags, &v.Duration,
			&v.ViewCount, &v.LikeCount, &v.CommentCount, &status, &v.Language,
			&v.ThumbnailURL); err != nil {
			return nil, 0, fmt.Errorf("scan video: %w", err)
		}
		v.Tags = tags
		v.Status = domain.ContentStatus(status)
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	total, err := r.countWithFilters(ctx, "videos", filters)
	if err != nil {
		return nil, 0, err
	}

	return videos, total, nil
}

// CountArticles is a plain aggregate, never cached.
func (r *PostgresRepository) CountArticles(ctx context.Context) (int, error) {
	return r.countWithFilters(ctx, "articles", ports.ContentFilters{})
}

// CountVideos is a plain aggregate, never cached.
func (r *PostgresRepository) CountVideos(ctx context.Context) (int, error) {
	return r.countWithFilters(ctx, "videos", ports.ContentFilters{})
}

// DeleteOlderThan purges non-archived records past the retention horizon and
// returns how many rows went away across both collections.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	var removed int64
	for _, table := range []string{"articles", "videos"} {
		query, args, err := r.builder.
			Delete(table).
			Where(sq.Expr("published_at < NOW() - ? * INTERVAL '1 day'", days)).
			Where(sq.NotEq{"status": string(domain.StatusArchived)}).
			ToSql()
		if err != nil {
			return removed, fmt.Errorf("build delete %s: %w", table, err)
		}

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return removed, fmt.Errorf("delete old %s: %w", table, err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("rows affected %s: %w", table, err)
		}
		removed += count
	}
	return removed, nil
}

// CreateFeed registers a feed descriptor. The URL carries a unique index.
func (r *PostgresRepository) CreateFeed(ctx context.Context, feed *domain.FeedDescriptor) error {
	query, args, err := r.builder.
		Insert("feeds").
		Columns("id", "name", "url", "kind", "category", "is_active",
			"fetch_interval_minutes", "failure_count", "avg_response_ms",
			"health_score").
		Values(feed.ID, feed.Name, feed.URL, string(feed.Kind), feed.Category,
			feed.IsActive, int(feed.FetchInterval.Minutes()), feed.FailureCount,
			feed.AvgResponseTime.Milliseconds(), feed.HealthScore).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert feed: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}

// GetFeed loads one descriptor by ID.
func (r *PostgresRepository) GetFeed(ctx context.Context, id string) (*domain.FeedDescriptor, error) {
	query, args, err := feedSelect(r.builder).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get feed: %w", err)
	}

	feed, err := scanFeed(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get feed %s: %w", id, ports.ErrFeedNotFound)
		}
		return nil, fmt.Errorf("get feed %s: %w", id, err)
	}
	return feed, nil
}

// ListFeeds returns every descriptor, health dashboard order.
func (r *PostgresRepository) ListFeeds(ctx context.Context) ([]domain.FeedDescriptor, error) {
	return r.listFeeds(ctx, feedSelect(r.builder).OrderBy("name ASC"))
}

// ListActiveFeeds returns only feeds eligible for scheduling.
func (r *PostgresRepository) ListActiveFeeds(ctx context.Context) ([]domain.FeedDescriptor, error) {
	return r.listFeeds(ctx, feedSelect(r.builder).Where(sq.Eq{"is_active": true}))
}

func (r *PostgresRepository) listFeeds(ctx context.Context, base sq.SelectBuilder) ([]domain.FeedDescriptor, error) {
	query, args, err := base.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list feeds: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []domain.FeedDescriptor
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, *feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return feeds, nil
}

// UpdateFeedHealth persists the tracker's transition result for one feed.
func (r *PostgresRepository) UpdateFeedHealth(ctx context.Context, feed domain.FeedDescriptor) error {
	update := r.builder.
		Update("feeds").
		Set("failure_count", feed.FailureCount).
		Set("avg_response_ms", feed.AvgResponseTime.Milliseconds()).
		Set("health_score", feed.HealthScore).
		Where(sq.Eq{"id": feed.ID})

	if !feed.LastFetchedAt.IsZero() {
		update = update.Set("last_fetched_at", feed.LastFetchedAt)
	}
	if !feed.LastSuccessAt.IsZero() {
		update = update.Set("last_success_at", feed.LastSuccessAt)
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build update feed: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update feed %s: %w", feed.ID, err)
	}
	return nil
}

// AppendFetchLog records one fetch attempt; rows are never updated.
func (r *PostgresRepository) AppendFetchLog(ctx context.Context, entry domain.FetchLog) error {
	query, args, err := r.builder.
		Insert("fetch_logs").
		Columns("feed_id", "fetched_at", "success", "response_ms",
			"items_found", "new_items", "error_message", "status_code").
		Values(entry.FeedID, entry.FetchedAt, entry.Success,
			entry.ResponseTime.Milliseconds(), entry.ItemsFound, entry.NewItems,
			entry.ErrorMessage, entry.StatusCode).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert fetch log: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) countWithFilters(ctx context.Context, table string, filters ports.ContentFilters) (int, error) {
	base := r.builder.Select("COUNT(*)").From(table)
	if table == "articles" {
		base = applyArticleFilters(base, filters)
	} else {
		base = applyVideoFilters(base, filters)
	}

	query, args, err := base.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", table, err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return total, nil
}

func applyArticleFilters(base sq.SelectBuilder, filters ports.ContentFilters) sq.SelectBuilder {
	if filters.Category != "" {
		base = base.Where(sq.Eq{"category": filters.Category})
	}
	if filters.Source != "" {
		base = base.Where(sq.Eq{"source_name": filters.Source})
	}
	if filters.Status != "" {
		base = base.Where(sq.Eq{"status": filters.Status})
	}
	if filters.Query != "" {
		pattern := "%" + filters.Query + "%"
		base = base.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"summary": pattern},
		})
	}
	return base
}

func applyVideoFilters(base sq.SelectBuilder, filters ports.ContentFilters) sq.SelectBuilder {
	if filters.Category != "" {
		base = base.Where(sq.Eq{"category": filters.Category})
	}
	if filters.Source != "" {
		base = base.Where(sq.Eq{"channel_name": filters.Source})
	}
	if filters.Status != "" {
		base = base.Where(sq.Eq{"status": filters.Status})
	}
	if filters.Query != "" {
		pattern := "%" + filters.Query + "%"
		base = base.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"description": pattern},
		})
	}
	return base
}

func feedSelect(builder sq.StatementBuilderType) sq.SelectBuilder {
	return builder.Select("id", "name", "url", "kind", "category", "is_active",
		"fetch_interval_minutes", "failure_count", "avg_response_ms",
		"health_score", "last_fetched_at", "last_success_at").
		From("feeds")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*domain.FeedDescriptor, error) {
	var (
		feed          domain.FeedDescriptor
		kind          string
		intervalMin   int
		avgResponseMS int64
		lastFetched   sql.NullTime
		lastSuccess   sql.NullTime
	)
	if err := row.Scan(&feed.ID, &feed.Name, &feed.URL, &kind, &feed.Category,
		&feed.IsActive, &intervalMin, &feed.FailureCount, &avgResponseMS,
		&feed.HealthScore, &lastFetched, &lastSuccess); err != nil {
		return nil, err
	}

	feed.Kind = domain.FeedKind(kind)
	feed.FetchInterval = time.Duration(intervalMin) * time.Minute
	feed.AvgResponseTime = time.Duration(avgResponseMS) * time.Millisecond
	if lastFetched.Valid {
		feed.LastFetchedAt = lastFetched.Time
	}
	if lastSuccess.Valid {
		feed.LastSuccessAt = lastSuccess.Time
	}
	return &feed, nil
}

func pageOffset(page, limit int) uint64 {
	if page < 1 {
		page = 1
	}
	return uint64((page - 1) * limit)
}
