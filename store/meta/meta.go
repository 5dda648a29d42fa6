// Package meta is the MySQL-backed implementation of core.MetaStore,
// mapping the apps and uploads tables via borp (a gorp-family ORM).
package meta

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/letsencrypt/borp"

	"github.com/ota-server/updateserver/core"
	"github.com/ota-server/updateserver/db"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/log"
)

// Store is a MySQL-backed core.MetaStore.
type Store struct {
	dbMap *borp.DbMap
	log   log.Logger
}

// Open opens a MySQL connection and constructs the table map. driver is
// expected to be "mysql"; dsn is a standard Go DSN.
func Open(driver, dsn string, logger log.Logger) (*Store, error) {
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, berrors.InternalError("meta: opening database: %s", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, berrors.InternalError("meta: pinging database: %s", err)
	}

	logger.Info("connected to meta store %s", driver)

	dbMap := &borp.DbMap{
		Db:            sqlDB,
		Dialect:       borp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8MB4"},
		TypeConverter: typeConverter{},
	}
	initTables(dbMap)

	return &Store{dbMap: dbMap, log: logger}, nil
}

func initTables(dbMap *borp.DbMap) {
	appTable := dbMap.AddTableWithName(appRow{}, "apps").SetKeys(false, "Slug")
	appTable.ColMap("Slug").SetMaxSize(255)

	uploadTable := dbMap.AddTableWithName(uploadRow{}, "uploads").SetKeys(false, "ID")
	uploadTable.ColMap("ID").SetMaxSize(36)
	uploadTable.ColMap("UpdateID").SetMaxSize(36)
}

type appRow struct {
	Slug               string `db:"Slug"`
	Name               string `db:"Name"`
	Description        string `db:"Description"`
	OwnerEmail         string `db:"OwnerEmail"`
	CertificatePEM     sql.NullString `db:"CertificatePEM"`
	PrivateKeyPEM      sql.NullString `db:"PrivateKeyPEM"`
	AutoCleanupEnabled bool           `db:"AutoCleanupEnabled"`
	CreatedAt          time.Time      `db:"CreatedAt"`
	UpdatedAt          time.Time      `db:"UpdatedAt"`
}

func (r appRow) toCore() core.App {
	a := core.App{
		Slug:               r.Slug,
		Name:               r.Name,
		Description:        r.Description,
		OwnerEmail:         r.OwnerEmail,
		AutoCleanupEnabled: r.AutoCleanupEnabled,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.CertificatePEM.Valid && r.PrivateKeyPEM.Valid {
		cert, key := r.CertificatePEM.String, r.PrivateKeyPEM.String
		a.CertificatePEM = &cert
		a.PrivateKeyPEM = &key
	}
	return a
}

func appRowFromCore(a core.App) appRow {
	r := appRow{
		Slug:               a.Slug,
		Name:               a.Name,
		Description:        a.Description,
		OwnerEmail:         a.OwnerEmail,
		AutoCleanupEnabled: a.AutoCleanupEnabled,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.CertificatePEM != nil {
		r.CertificatePEM = sql.NullString{String: *a.CertificatePEM, Valid: true}
	}
	if a.PrivateKeyPEM != nil {
		r.PrivateKeyPEM = sql.NullString{String: *a.PrivateKeyPEM, Valid: true}
	}
	return r
}

// jsonColumn is stored/retrieved as TEXT via typeConverter; it is
// json.RawMessage under the hood but given a distinct named type so the
// converter can pattern-match on it without colliding with any other
// []byte-shaped column.
type jsonColumn json.RawMessage

type uploadRow struct {
	ID                   string     `db:"ID"`
	Project              string     `db:"Project"`
	Version              string     `db:"Version"`
	ReleaseChannel       string     `db:"ReleaseChannel"`
	Status               string     `db:"Status"`
	Path                 string     `db:"Path"`
	UpdateID             string     `db:"UpdateID"`
	AppDescriptor        jsonColumn `db:"AppDescriptor"`
	DependencyDescriptor jsonColumn `db:"DependencyDescriptor"`
	AssetMetadata        jsonColumn `db:"AssetMetadata"`
	OriginalFilename     string     `db:"OriginalFilename"`
	GitBranch            sql.NullString `db:"GitBranch"`
	GitCommit            sql.NullString `db:"GitCommit"`
	CreatedAt            time.Time  `db:"CreatedAt"`
	ReleasedAt           *time.Time `db:"ReleasedAt"`
}

func (r uploadRow) toCore() (core.Upload, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return core.Upload{}, berrors.InternalError("meta: corrupt upload id %q: %s", r.ID, err)
	}
	updateID, err := uuid.Parse(r.UpdateID)
	if err != nil {
		return core.Upload{}, berrors.InternalError("meta: corrupt update id %q: %s", r.UpdateID, err)
	}
	u := core.Upload{
		ID:                   id,
		Project:              r.Project,
		Version:              r.Version,
		ReleaseChannel:       r.ReleaseChannel,
		Status:               core.UploadStatus(r.Status),
		Path:                 r.Path,
		UpdateID:             updateID,
		AppDescriptor:        json.RawMessage(r.AppDescriptor),
		DependencyDescriptor: json.RawMessage(r.DependencyDescriptor),
		AssetMetadata:        json.RawMessage(r.AssetMetadata),
		OriginalFilename:     r.OriginalFilename,
		CreatedAt:            r.CreatedAt,
		ReleasedAt:           r.ReleasedAt,
	}
	if r.GitBranch.Valid {
		b := r.GitBranch.String
		u.GitBranch = &b
	}
	if r.GitCommit.Valid {
		c := r.GitCommit.String
		u.GitCommit = &c
	}
	return u, nil
}

func uploadRowFromCore(u core.Upload) uploadRow {
	r := uploadRow{
		ID:                   u.ID.String(),
		Project:              u.Project,
		Version:              u.Version,
		ReleaseChannel:       u.ReleaseChannel,
		Status:               string(u.Status),
		Path:                 u.Path,
		UpdateID:             u.UpdateID.String(),
		AppDescriptor:        jsonColumn(u.AppDescriptor),
		DependencyDescriptor: jsonColumn(u.DependencyDescriptor),
		AssetMetadata:        jsonColumn(u.AssetMetadata),
		OriginalFilename:     u.OriginalFilename,
		CreatedAt:            u.CreatedAt,
		ReleasedAt:           u.ReleasedAt,
	}
	if u.GitBranch != nil {
		r.GitBranch = sql.NullString{String: *u.GitBranch, Valid: true}
	}
	if u.GitCommit != nil {
		r.GitCommit = sql.NullString{String: *u.GitCommit, Valid: true}
	}
	return r
}

// oneSelector narrows the context-bound DbMap down to the single method
// the caller needs, so each store method is written against db's
// interfaces rather than the concrete borp type.
func (s *Store) oneSelector(ctx context.Context) db.OneSelector { return s.dbMap.WithContext(ctx) }
func (s *Store) selector(ctx context.Context) db.Selector       { return s.dbMap.WithContext(ctx) }
func (s *Store) inserter(ctx context.Context) db.Inserter       { return s.dbMap.WithContext(ctx) }
func (s *Store) execer(ctx context.Context) db.Execer           { return s.dbMap.WithContext(ctx) }

func (s *Store) GetApp(ctx context.Context, slug string) (*core.App, error) {
	var row appRow
	err := s.oneSelector(ctx).SelectOne(&row, "SELECT * FROM apps WHERE Slug = ?", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.NotFoundError("meta: app %q not found", slug)
	}
	if err != nil {
		return nil, berrors.InternalError("meta: get app: %s", err)
	}
	app := row.toCore()
	return &app, nil
}

func (s *Store) ListApps(ctx context.Context) ([]core.App, error) {
	rows, err := s.selector(ctx).Select(appRow{}, "SELECT * FROM apps ORDER BY Slug ASC")
	if err != nil {
		return nil, berrors.InternalError("meta: list apps: %s", err)
	}
	apps := make([]core.App, 0, len(rows))
	for _, r := range rows {
		apps = append(apps, r.(*appRow).toCore())
	}
	return apps, nil
}

func (s *Store) CreateApp(ctx context.Context, app core.App) error {
	row := appRowFromCore(app)
	if err := s.inserter(ctx).Insert(&row); err != nil {
		if isDuplicateKeyErr(err) {
			return berrors.ConflictError("meta: app %q already exists", app.Slug)
		}
		return berrors.InternalError("meta: create app: %s", err)
	}
	return nil
}

func (s *Store) UpdateApp(ctx context.Context, app core.App) error {
	row := appRowFromCore(app)
	_, err := s.execer(ctx).Exec(
		"UPDATE apps SET Name=?, Description=?, OwnerEmail=?, CertificatePEM=?, PrivateKeyPEM=?, AutoCleanupEnabled=?, UpdatedAt=? WHERE Slug=?",
		row.Name, row.Description, row.OwnerEmail, row.CertificatePEM, row.PrivateKeyPEM, row.AutoCleanupEnabled, row.UpdatedAt, row.Slug)
	if err != nil {
		return berrors.InternalError("meta: update app: %s", err)
	}
	return nil
}

func (s *Store) DeleteApp(ctx context.Context, slug string) error {
	_, err := s.execer(ctx).Exec("DELETE FROM apps WHERE Slug = ?", slug)
	if err != nil {
		return berrors.InternalError("meta: delete app: %s", err)
	}
	return nil
}

func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (*core.Upload, error) {
	var row uploadRow
	err := s.oneSelector(ctx).SelectOne(&row, "SELECT * FROM uploads WHERE ID = ?", id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.NotFoundError("meta: upload %q not found", id)
	}
	if err != nil {
		return nil, berrors.InternalError("meta: get upload: %s", err)
	}
	u, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUploads(ctx context.Context) ([]core.Upload, error) {
	rows, err := s.selector(ctx).Select(uploadRow{}, "SELECT * FROM uploads ORDER BY CreatedAt DESC")
	return scanUploadRows(rows, err)
}

func (s *Store) ListUploadsByChannel(ctx context.Context, project, channel string) ([]core.Upload, error) {
	rows, err := s.selector(ctx).Select(uploadRow{},
		"SELECT * FROM uploads WHERE Project = ? AND ReleaseChannel = ? ORDER BY CreatedAt DESC", project, channel)
	return scanUploadRows(rows, err)
}

func scanUploadRows(rows []interface{}, err error) ([]core.Upload, error) {
	if err != nil {
		return nil, berrors.InternalError("meta: list uploads: %s", err)
	}
	out := make([]core.Upload, 0, len(rows))
	for _, r := range rows {
		u, err := r.(*uploadRow).toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) FindReleasedUpload(ctx context.Context, project, channel string) (*core.Upload, error) {
	var row uploadRow
	err := s.oneSelector(ctx).SelectOne(&row,
		"SELECT * FROM uploads WHERE Project = ? AND ReleaseChannel = ? AND Status = ? ORDER BY CreatedAt DESC LIMIT 1",
		project, channel, string(core.StatusReleased))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, berrors.InternalError("meta: find released upload: %s", err)
	}
	u, err := row.toCore()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUpload(ctx context.Context, upload core.Upload) error {
	row := uploadRowFromCore(upload)
	if err := s.inserter(ctx).Insert(&row); err != nil {
		return berrors.InternalError("meta: create upload: %s", err)
	}
	return nil
}

func (s *Store) SetUploadStatus(ctx context.Context, id uuid.UUID, status core.UploadStatus, releasedAt *time.Time) error {
	_, err := s.execer(ctx).Exec(
		"UPDATE uploads SET Status=?, ReleasedAt=? WHERE ID=?", string(status), releasedAt, id.String())
	if err != nil {
		return berrors.InternalError("meta: set upload status: %s", err)
	}
	return nil
}

func (s *Store) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	_, err := s.execer(ctx).Exec("DELETE FROM uploads WHERE ID = ?", id.String())
	if err != nil {
		return berrors.InternalError("meta: delete upload: %s", err)
	}
	return nil
}

func (s *Store) UploadStats(ctx context.Context, project string) (core.AppStats, error) {
	var stats core.AppStats
	one := s.oneSelector(ctx)
	err := one.SelectOne(&stats.TotalUploads, "SELECT COUNT(*) FROM uploads WHERE Project = ?", project)
	if err != nil {
		return core.AppStats{}, berrors.InternalError("meta: upload stats (total): %s", err)
	}
	err = one.SelectOne(&stats.ReleasedUploads,
		"SELECT COUNT(*) FROM uploads WHERE Project = ? AND Status = ?", project, string(core.StatusReleased))
	if err != nil {
		return core.AppStats{}, berrors.InternalError("meta: upload stats (released): %s", err)
	}

	var lastUpdate sql.NullTime
	_ = one.SelectOne(&lastUpdate, "SELECT MAX(CreatedAt) FROM uploads WHERE Project = ?", project)
	if lastUpdate.Valid {
		t := lastUpdate.Time
		stats.LastUpdate = &t
	}

	var lastRelease sql.NullTime
	_ = one.SelectOne(&lastRelease, "SELECT MAX(ReleasedAt) FROM uploads WHERE Project = ? AND Status = ?", project, string(core.StatusReleased))
	if lastRelease.Valid {
		t := lastRelease.Time
		stats.LastRelease = &t
	}

	return stats, nil
}

func isDuplicateKeyErr(err error) bool {
	return err != nil && containsAny(err.Error(), "Duplicate entry", "duplicate key", "UNIQUE constraint")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
