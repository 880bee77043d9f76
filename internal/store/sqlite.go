package store

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/EBISPOT/zooma-sub003/internal/loader"
	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. All access goes through one connection, so concurrent block loads
// queue instead of failing with SQLITE_BUSY, and ":memory:" databases stay
// a single database.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, log: zap.L().With(zap.String("component", "store.sqlite"))}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS annotations (
	uri            TEXT PRIMARY KEY,
	datasource     TEXT NOT NULL,
	property_type  TEXT NOT NULL DEFAULT '',
	property_value TEXT NOT NULL,
	doc            TEXT NOT NULL,
	loaded_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS annotation_tags (
	annotation_uri TEXT NOT NULL REFERENCES annotations(uri),
	tag            TEXT NOT NULL,
	PRIMARY KEY (annotation_uri, tag)
);

CREATE TABLE IF NOT EXISTS biological_entities (
	uri  TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	doc  TEXT NOT NULL
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
	id         TEXT PRIMARY KEY,
	datasource TEXT NOT NULL,
	content    TEXT NOT NULL,
	loaded_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS receipt_log (
	id           TEXT PRIMARY KEY,
	receipt_id   TEXT NOT NULL,
	datasource   TEXT NOT NULL,
	load_type    TEXT NOT NULL,
	successful   INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	submitted_at DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotations_datasource ON annotations(datasource);
CREATE INDEX IF NOT EXISTS idx_annotation_tags_tag ON annotation_tags(tag);
CREATE INDEX IF NOT EXISTS idx_annotation_entities_entity ON annotation_entities(entity_uri);
CREATE INDEX IF NOT EXISTS idx_supplementary_datasource ON supplementary(datasource);
CREATE INDEX IF NOT EXISTS idx_receipt_log_completed ON receipt_log(completed_at);
`

// currentOnly excludes annotations that have a newer version.
const currentOnly = `NOT EXISTS (SELECT 1 FROM annotation_replacements r WHERE r.uri = a.uri)`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements loader.Loader. Writing an annotation replaces any stored
// row with the same URI, tags and entity links included.
func (s *SQLiteStore) Load(ctx context.Context, datasource string, annotations []*model.Annotation) error {
	b, err := flatten(datasource, annotations)
	if err != nil {
		return err
	}
	if len(b.annotations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin load")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, row := range b.annotations {
		for _, q := range []string{
			`DELETE FROM annotation_tags WHERE annotation_uri = ?`,
			`DELETE FROM annotation_entities WHERE annotation_uri = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, row[0]); err != nil {
				return eris.Wrapf(err, "sqlite: clear links of %s", row[0])
			}
		}
	}

	steps := []struct {
		name  string
		query string
		rows  [][]any
	}{
		{"annotations", `INSERT INTO annotations (uri, datasource, property_type, property_value, doc, loaded_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET datasource = excluded.datasource, property_type = excluded.property_type,
				property_value = excluded.property_value, doc = excluded.doc, loaded_at = excluded.loaded_at`, b.annotations},
		{"bioentities", `INSERT INTO biological_entities (uri, name, doc) VALUES (?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET name = excluded.name, doc = excluded.doc`, b.entities},
		{"tags", `INSERT OR IGNORE INTO annotation_tags (annotation_uri, tag) VALUES (?, ?)`, b.tags},
		{"entity links", `INSERT OR IGNORE INTO annotation_entities (annotation_uri, entity_uri) VALUES (?, ?)`, b.links},
		{"replacements", `INSERT OR IGNORE INTO annotation_replacements (uri, replaced_by) VALUES (?, ?)`, b.replacements},
	}
	for _, step := range steps {
		if err := execRows(ctx, tx, step.query, step.rows); err != nil {
			return eris.Wrapf(err, "sqlite: write %s", step.name)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit load")
	}
	s.log.Debug("sqlite: loaded annotations",
		zap.String("datasource", datasource),
		zap.Int("annotations", len(b.annotations)),
	)
	return nil
}

func execRows(ctx context.Context, tx *sql.Tx, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	return nil
}

// LoadOne implements loader.Loader.
func (s *SQLiteStore) LoadOne(ctx context.Context, a *model.Annotation) error {
	return s.Load(ctx, datasourceOf(a), []*model.Annotation{a})
}

// Update implements loader.Loader by rewriting each annotation with the
// update applied. Versioning is left to the resolving loader.
func (s *SQLiteStore) Update(ctx context.Context, annotations []*model.Annotation, u loader.Update) error {
	updated := make([]*model.Annotation, 0, len(annotations))
	for _, a := range annotations {
		updated = append(updated, u.Apply(a))
	}
	return s.Load(ctx, loader.UpdateDatasource, updated)
}

// LoadSupplementary implements loader.Loader.
func (s *SQLiteStore) LoadSupplementary(ctx context.Context, datasource string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrapf(err, "sqlite: read supplementary stream of %s", datasource)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO supplementary (id, datasource, content, loaded_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), datasource, string(content), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert supplementary stream of %s", datasource)
}

// GetAnnotation implements resolve.Store.
func (s *SQLiteStore) GetAnnotation(ctx context.Context, uri string) (*model.Annotation, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM annotations WHERE uri = ?`, uri).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get annotation %s", uri)
	}
	a, err := decodeAnnotation(doc)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT replaced_by FROM annotation_replacements WHERE uri = ? ORDER BY replaced_by`, uri)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: replacements of %s", uri)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var next string
		if err := rows.Scan(&next); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan replacement")
		}
		a.ReplacedBy = append(a.ReplacedBy, next)
	}
	return a, eris.Wrap(rows.Err(), "sqlite: replacements iterate")
}

// GetBiologicalEntity implements resolve.Store.
func (s *SQLiteStore) GetBiologicalEntity(ctx context.Context, uri string) (*model.BiologicalEntity, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM biological_entities WHERE uri = ?`, uri).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get bioentity %s", uri)
	}
	return decodeEntity(doc)
}

// ReadByBiologicalEntity implements resolve.Store.
func (s *SQLiteStore) ReadByBiologicalEntity(ctx context.Context, entityURI string) ([]*model.Annotation, error) {
	return s.queryAnnotations(ctx, "read by bioentity",
		`SELECT a.doc FROM annotations a
		 JOIN annotation_entities e ON e.annotation_uri = a.uri
		 WHERE e.entity_uri = ? AND `+currentOnly+` ORDER BY a.uri`,
		entityURI,
	)
}

// ReadBySemanticTag implements resolve.Store.
func (s *SQLiteStore) ReadBySemanticTag(ctx context.Context, tag string) ([]*model.Annotation, error) {
	return s.queryAnnotations(ctx, "read by tag",
		`SELECT a.doc FROM annotations a
		 JOIN annotation_tags t ON t.annotation_uri = a.uri
		 WHERE t.tag = ? AND `+currentOnly+` ORDER BY a.uri`,
		tag,
	)
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM annotations a WHERE `+currentOnly).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count annotations")
}

// ReadPage implements Store, in load order.
func (s *SQLiteStore) ReadPage(ctx context.Context, size, start int) ([]*model.Annotation, error) {
	return s.queryAnnotations(ctx, "read page",
		`SELECT a.doc FROM annotations a WHERE `+currentOnly+` ORDER BY a.rowid LIMIT ? OFFSET ?`,
		size, start,
	)
}

// Search implements Store.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]*model.Annotation, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	conds := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		conds[i] = `lower(a.property_value) LIKE ? ESCAPE '\'`
		args = append(args, t)
	}
	args = append(args, limit)

	return s.queryAnnotations(ctx, "search",
		`SELECT a.doc FROM annotations a WHERE (`+strings.Join(conds, " OR ")+`) AND `+currentOnly+
			` ORDER BY a.uri LIMIT ?`,
		args...,
	)
}

func (s *SQLiteStore) queryAnnotations(ctx context.Context, op, query string, args ...any) ([]*model.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.Annotation
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		a, err := decodeAnnotation(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

// SaveReceiptStatus implements receipt.StatusSink.
func (s *SQLiteStore) SaveReceiptStatus(ctx context.Context, st receipt.Status) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipt_log (id, receipt_id, datasource, load_type, successful, error, submitted_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET successful = excluded.successful, error = excluded.error,
		   completed_at = excluded.completed_at`,
		receiptRowID(st), st.ID, st.Datasource, string(st.LoadType), st.Successful, st.Error,
		st.Submitted.UTC(), st.Completed.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save receipt %s", st.ID)
}

// ListReceipts implements Store.
func (s *SQLiteStore) ListReceipts(ctx context.Context, limit int) ([]receipt.Status, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT receipt_id, datasource, load_type, successful, error, submitted_at, completed_at
		 FROM receipt_log ORDER BY completed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list receipts")
	}
	defer rows.Close() //nolint:errcheck

	var out []receipt.Status
	for rows.Next() {
		var st receipt.Status
		var loadType string
		if err := rows.Scan(&st.ID, &st.Datasource, &loadType, &st.Successful, &st.Error, &st.Submitted, &st.Completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan receipt")
		}
		st.LoadType = model.LoadType(loadType)
		st.Complete = true
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list receipts iterate")
}

func datasourceOf(a *model.Annotation) string {
	if a.Provenance != nil && a.Provenance.Source.Name != "" {
		return a.Provenance.Source.Name
	}
	return "unknown"
}
