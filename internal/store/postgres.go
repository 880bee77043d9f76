package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/db"
	"github.com/EBISPOT/zooma-sub003/internal/loader"
	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	log     *zap.Logger
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetAnnotation = `SELECT doc FROM annotations WHERE uri = $1`
	pgReplacements  = `SELECT replaced_by FROM annotation_replacements WHERE uri = $1 ORDER BY replaced_by`
	pgGetEntity     = `SELECT doc FROM biological_entities WHERE uri = $1`
	pgReadByEntity  = `SELECT a.doc FROM annotations a JOIN annotation_entities e ON e.annotation_uri = a.uri
		WHERE e.entity_uri = $1 AND ` + currentOnly + ` ORDER BY a.uri`
	pgReadByTag = `SELECT a.doc FROM annotations a JOIN annotation_tags t ON t.annotation_uri = a.uri
		WHERE t.tag = $1 AND ` + currentOnly + ` ORDER BY a.uri`
	pgCount       = `SELECT count(*) FROM annotations a WHERE ` + currentOnly
	pgReadPage    = `SELECT a.doc FROM annotations a WHERE ` + currentOnly + ` ORDER BY a.loaded_at, a.uri LIMIT $1 OFFSET $2`
	pgListReceipts = `SELECT receipt_id, datasource, load_type, successful, error, submitted_at, completed_at
		FROM receipt_log ORDER BY completed_at DESC LIMIT $1`
)

var receiptLogUpsert = db.UpsertConfig{
	Table:        "receipt_log",
	Columns:      []string{"id", "receipt_id", "datasource", "load_type", "successful", "error", "submitted_at", "completed_at"},
	ConflictKeys: []string{"id"},
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the resolver's lookups.
var preparedStatements = map[string]string{
	"get_annotation":    pgGetAnnotation,
	"replacements":      pgReplacements,
	"get_bioentity":     pgGetEntity,
	"read_by_bioentity": pgReadByEntity,
	"read_by_tag":       pgReadByTag,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				zap.L().Debug("postgres: prepare skipped", zap.String("statement", name), zap.Error(err))
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		closeFn: closeFn,
		log:     zap.L().With(zap.String("component", "store.postgres")),
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS annotations (
	uri            TEXT PRIMARY KEY,
	datasource     TEXT NOT NULL,
	property_type  TEXT NOT NULL DEFAULT '',
	property_value TEXT NOT NULL,
	doc            JSONB NOT NULL,
	loaded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS annotation_tags (
	annotation_uri TEXT NOT NULL REFERENCES annotations(uri),
	tag            TEXT NOT NULL,
	PRIMARY KEY (annotation_uri, tag)
);

CREATE TABLE IF NOT EXISTS biological_entities (
	uri  TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	doc  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS annotation_entities (
	annotation_uri TEXT NOT NULL REFERENCES annotations(uri),
	entity_uri     TEXT NOT NULL REFERENCES biological_entities(uri),
	PRIMARY KEY (annotation_uri, entity_uri)
);

CREATE TABLE IF NOT EXISTS annotation_replacements (
	uri         TEXT NOT NULL,
	replaced_by TEXT NOT NULL,
	PRIMARY KEY (uri, replaced_by)
);

CREATE TABLE IF NOT EXISTS supplementary (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	datasource TEXT NOT NULL,
	content    TEXT NOT NULL,
	loaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS receipt_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	receipt_id   TEXT NOT NULL,
	datasource   TEXT NOT NULL,
	load_type    TEXT NOT NULL,
	successful   BOOLEAN NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotations_datasource ON annotations(datasource);
CREATE INDEX IF NOT EXISTS idx_annotations_value ON annotations(lower(property_value));
CREATE INDEX IF NOT EXISTS idx_annotation_tags_tag ON annotation_tags(tag);
CREATE INDEX IF NOT EXISTS idx_annotation_entities_entity ON annotation_entities(entity_uri);
CREATE INDEX IF NOT EXISTS idx_supplementary_datasource ON supplementary(datasource);
CREATE INDEX IF NOT EXISTS idx_receipt_log_completed ON receipt_log(completed_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Load implements loader.Loader. Rows are COPYed through temp tables and
// upserted in one transaction.
func (s *PostgresStore) Load(ctx context.Context, datasource string, annotations []*model.Annotation) error {
	b, err := flatten(datasource, annotations)
	if err != nil {
		return err
	}
	if len(b.annotations) == 0 {
		return nil
	}
	uris := make([]string, len(b.annotations))
	for i, row := range b.annotations {
		uris[i] = row[0].(string)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin load")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM annotation_tags WHERE annotation_uri = ANY($1)`,
		`DELETE FROM annotation_entities WHERE annotation_uri = ANY($1)`,
	} {
		if _, err := tx.Exec(ctx, q, uris); err != nil {
			return eris.Wrap(err, "postgres: clear annotation links")
		}
	}

	steps := []struct {
		cfg  db.UpsertConfig
		rows [][]any
	}{
		{db.UpsertConfig{Table: "annotations", Columns: annotationColumns, ConflictKeys: []string{"uri"}}, b.annotations},
		{db.UpsertConfig{Table: "biological_entities", Columns: entityColumns, ConflictKeys: []string{"uri"}}, b.entities},
		{db.UpsertConfig{Table: "annotation_tags", Columns: tagColumns, ConflictKeys: tagColumns}, b.tags},
		{db.UpsertConfig{Table: "annotation_entities", Columns: linkColumns, ConflictKeys: linkColumns}, b.links},
		{db.UpsertConfig{Table: "annotation_replacements", Columns: replacementColumns, ConflictKeys: replacementColumns}, b.replacements},
	}
	for _, step := range steps {
		if _, err := db.UpsertTx(ctx, tx, step.cfg, step.rows); err != nil {
			return eris.Wrapf(err, "postgres: load %s", datasource)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit load")
	}
	s.log.Debug("postgres: loaded annotations",
		zap.String("datasource", datasource),
		zap.Int("annotations", len(b.annotations)),
	)
	return nil
}

// LoadOne implements loader.Loader.
func (s *PostgresStore) LoadOne(ctx context.Context, a *model.Annotation) error {
	return s.Load(ctx, datasourceOf(a), []*model.Annotation{a})
}

// Update implements loader.Loader by rewriting each annotation with the
// update applied.
func (s *PostgresStore) Update(ctx context.Context, annotations []*model.Annotation, u loader.Update) error {
	updated := make([]*model.Annotation, 0, len(annotations))
	for _, a := range annotations {
		updated = append(updated, u.Apply(a))
	}
	return s.Load(ctx, loader.UpdateDatasource, updated)
}

// LoadSupplementary implements loader.Loader.
func (s *PostgresStore) LoadSupplementary(ctx context.Context, datasource string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrapf(err, "postgres: read supplementary stream of %s", datasource)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO supplementary (id, datasource, content, loaded_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), datasource, string(content), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert supplementary stream of %s", datasource)
}

// GetAnnotation implements resolve.Store.
func (s *PostgresStore) GetAnnotation(ctx context.Context, uri string) (*model.Annotation, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, pgGetAnnotation, uri).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get annotation %s", uri)
	}
	a, err := decodeAnnotation(doc)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, pgReplacements, uri)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: replacements of %s", uri)
	}
	next, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: collect replacements of %s", uri)
	}
	a.ReplacedBy = next
	return a, nil
}

// GetBiologicalEntity implements resolve.Store.
func (s *PostgresStore) GetBiologicalEntity(ctx context.Context, uri string) (*model.BiologicalEntity, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, pgGetEntity, uri).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get bioentity %s", uri)
	}
	return decodeEntity(doc)
}

// ReadByBiologicalEntity implements resolve.Store.
func (s *PostgresStore) ReadByBiologicalEntity(ctx context.Context, entityURI string) ([]*model.Annotation, error) {
	return s.queryAnnotations(ctx, "read by bioentity", pgReadByEntity, entityURI)
}

// ReadBySemanticTag implements resolve.Store.
func (s *PostgresStore) ReadBySemanticTag(ctx context.Context, tag string) ([]*model.Annotation, error) {
	return s.queryAnnotations(ctx, "read by tag", pgReadByTag, tag)
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgCount).Scan(&n)
	return n, eris.Wrap(err, "postgres: count annotations")
}

// ReadPage implements Store.
func (s *PostgresStore) ReadPage(ctx context.Context, size, start int) ([]*model.Annotation, error) {
	return s.queryAnnotations(ctx, "read page", pgReadPage, size, start)
}

// Search implements Store.
func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]*model.Annotation, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	// terms already carry LIKE wildcards and escapes.
	return s.queryAnnotations(ctx, "search",
		`SELECT a.doc FROM annotations a WHERE lower(a.property_value) LIKE ANY($1) AND `+currentOnly+
			` ORDER BY a.uri LIMIT $2`,
		terms, limit,
	)
}

func (s *PostgresStore) queryAnnotations(ctx context.Context, op, query string, args ...any) ([]*model.Annotation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s collect", op)
	}
	out := make([]*model.Annotation, 0, len(docs))
	for _, doc := range docs {
		a, err := decodeAnnotation(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// SaveReceiptStatus implements receipt.StatusSink.
func (s *PostgresStore) SaveReceiptStatus(ctx context.Context, st receipt.Status) error {
	_, err := db.BulkUpsert(ctx, s.pool, receiptLogUpsert, [][]any{{
		receiptRowID(st), st.ID, st.Datasource, string(st.LoadType), st.Successful, st.Error,
		st.Submitted.UTC(), st.Completed.UTC(),
	}})
	return eris.Wrapf(err, "postgres: save receipt %s", st.ID)
}

// ListReceipts implements Store.
func (s *PostgresStore) ListReceipts(ctx context.Context, limit int) ([]receipt.Status, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.pool.Query(ctx, pgListReceipts, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list receipts")
	}
	defer rows.Close()

	var out []receipt.Status
	for rows.Next() {
		var st receipt.Status
		var loadType string
		if err := rows.Scan(&st.ID, &st.Datasource, &loadType, &st.Successful, &st.Error, &st.Submitted, &st.Completed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan receipt")
		}
		st.LoadType = model.LoadType(loadType)
		st.Complete = true
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list receipts iterate")
}
