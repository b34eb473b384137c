// Package postgres is the durable entity store, on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
)

//go:embed schema.sql
var schema string

type store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema.
func New(ctx context.Context, dburi string) (db.Store, error) {
	pool, err := pgxpool.Connect(ctx, dburi)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, xe.WrapWithNote("applying schema", err)
	}
	return &store{pool: pool}, nil
}

func (s *store) Clusters() db.ClusterInterface     { return &clusters{pool: s.pool} }
func (s *store) Apps() db.AppInterface             { return &apps{pool: s.pool} }
func (s *store) Releases() db.ReleaseInterface     { return &releases{pool: s.pool} }
func (s *store) Containers() db.ContainerInterface { return &containers{pool: s.pool} }
func (s *store) Keys() db.KeyInterface             { return &keys{pool: s.pool} }
func (s *store) Domains() db.DomainInterface       { return &domains{pool: s.pool} }

func (s *store) Close() error {
	s.pool.Close()
	return nil
}

// classify maps driver errors onto the domain error taxonomy.
func classify(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrMissing, entity)
	}
	pgErr := &pgconn.PgError{}
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrConflict, entity)
	}
	return xe.WrapWithNote(entity, err)
}

func asJSONB(v any) (pgtype.JSONB, error) {
	marshalled, err := json.Marshal(v)
	if err != nil {
		return pgtype.JSONB{}, err
	}
	j := pgtype.JSONB{}
	if err := j.Set(marshalled); err != nil {
		return pgtype.JSONB{}, err
	}
	return j, nil
}

func fromJSONB[T any](j pgtype.JSONB) (T, error) {
	var out T
	if j.Status != pgtype.Present {
		return out, nil
	}
	if err := json.Unmarshal(j.Bytes, &out); err != nil {
		return out, err
	}
	return out, nil
}

type clusters struct {
	pool *pgxpool.Pool
}

func (c *clusters) Register(ctx context.Context, cluster domain.Cluster) error {
	hosts, err := asJSONB(cluster.Hosts)
	if err != nil {
		return xe.Wrap(err)
	}
	options, err := asJSONB(cluster.Options)
	if err != nil {
		return xe.Wrap(err)
	}
	_, err = c.pool.Exec(
		ctx,
		`
		insert into "clusters" ("name", "type", "domain", "hosts", "auth", "options")
		values ($1, $2, $3, $4, $5, $6)
		`,
		cluster.Name, string(cluster.Type), cluster.Domain, hosts, cluster.Auth, options,
	)
	return classify(err, fmt.Sprintf("cluster %s", cluster.Name))
}

func (c *clusters) Get(ctx context.Context, name string) (domain.Cluster, error) {
	var (
		cluster = domain.Cluster{Name: name}
		ctype   string
		hosts   pgtype.JSONB
		options pgtype.JSONB
	)
	err := c.pool.QueryRow(
		ctx,
		`
		select "type", "domain", "hosts", "auth", "options"
		from "clusters" where "name" = $1
		`,
		name,
	).Scan(&ctype, &cluster.Domain, &hosts, &cluster.Auth, &options)
	if err != nil {
		return domain.Cluster{}, classify(err, fmt.Sprintf("cluster %s", name))
	}

	if cluster.Type, err = domain.AsClusterType(ctype); err != nil {
		return domain.Cluster{}, xe.Wrap(err)
	}
	if cluster.Hosts, err = fromJSONB[[]string](hosts); err != nil {
		return domain.Cluster{}, xe.Wrap(err)
	}
	if cluster.Options, err = fromJSONB[map[string]string](options); err != nil {
		return domain.Cluster{}, xe.Wrap(err)
	}
	return cluster, nil
}

type apps struct {
	pool *pgxpool.Pool
}

func (a *apps) New(ctx context.Context, app domain.App) error {
	structure, err := asJSONB(app.Structure)
	if err != nil {
		return xe.Wrap(err)
	}
	_, err = a.pool.Exec(
		ctx,
		`
		insert into "apps" ("id", "owner", "cluster", "structure")
		values ($1, $2, $3, $4)
		`,
		app.Id, app.Owner, app.Cluster, structure,
	)
	return classify(err, fmt.Sprintf("app %s", app.Id))
}

func scanApp(row pgx.Row) (domain.App, error) {
	var (
		app       domain.App
		structure pgtype.JSONB
	)
	if err := row.Scan(&app.Id, &app.Owner, &app.Cluster, &structure); err != nil {
		return domain.App{}, err
	}
	var err error
	if app.Structure, err = fromJSONB[map[string]int](structure); err != nil {
		return domain.App{}, err
	}
	return app, nil
}

func (a *apps) Get(ctx context.Context, id string) (domain.App, error) {
	app, err := scanApp(a.pool.QueryRow(
		ctx,
		`select "id", "owner", "cluster", "structure" from "apps" where "id" = $1`,
		id,
	))
	if err != nil {
		return domain.App{}, classify(err, fmt.Sprintf("app %s", id))
	}
	return app, nil
}

func (a *apps) List(ctx context.Context, owner string) ([]domain.App, error) {
	rows, err := a.pool.Query(
		ctx,
		`
		select "id", "owner", "cluster", "structure" from "apps"
		where $1 = '' or "owner" = $1
		order by "id"
		`,
		owner,
	)
	if err != nil {
		return nil, classify(err, "apps")
	}
	defer rows.Close()

	found := []domain.App{}
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		found = append(found, app)
	}
	return found, rows.Err()
}

func (a *apps) SetStructure(ctx context.Context, id string, structure map[string]int) error {
	j, err := asJSONB(structure)
	if err != nil {
		return xe.Wrap(err)
	}
	tag, err := a.pool.Exec(
		ctx, `update "apps" set "structure" = $1 where "id" = $2`, j, id,
	)
	if err != nil {
		return classify(err, fmt.Sprintf("app %s", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: app %s", domain.ErrMissing, id)
	}
	return nil
}

func (a *apps) Delete(ctx context.Context, id string) error {
	tag, err := a.pool.Exec(ctx, `delete from "apps" where "id" = $1`, id)
	if err != nil {
		return classify(err, fmt.Sprintf("app %s", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: app %s", domain.ErrMissing, id)
	}
	return nil
}

type releases struct {
	pool *pgxpool.Pool
}

func (r *releases) New(ctx context.Context, rel domain.Release) error {
	build, err := asJSONB(rel.Build)
	if err != nil {
		return xe.Wrap(err)
	}
	config, err := asJSONB(rel.Config)
	if err != nil {
		return xe.Wrap(err)
	}
	limit, err := asJSONB(rel.Limit)
	if err != nil {
		return xe.Wrap(err)
	}
	_, err = r.pool.Exec(
		ctx,
		`
		insert into "releases"
		    ("app_id", "version", "owner", "image", "summary", "build", "config", "limit")
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		rel.AppId, rel.Version, rel.Owner, rel.Image, rel.Summary, build, config, limit,
	)
	return classify(err, fmt.Sprintf("release %s-v%d", rel.AppId, rel.Version))
}

func scanRelease(row pgx.Row) (domain.Release, error) {
	var (
		rel    domain.Release
		build  pgtype.JSONB
		config pgtype.JSONB
		limit  pgtype.JSONB
	)
	err := row.Scan(
		&rel.AppId, &rel.Version, &rel.Owner, &rel.Image, &rel.Summary,
		&build, &config, &limit, &rel.CreatedAt,
	)
	if err != nil {
		return domain.Release{}, err
	}
	if rel.Build, err = fromJSONB[domain.Build](build); err != nil {
		return domain.Release{}, err
	}
	if rel.Config, err = fromJSONB[domain.Config](config); err != nil {
		return domain.Release{}, err
	}
	if rel.Limit, err = fromJSONB[domain.Limit](limit); err != nil {
		return domain.Release{}, err
	}
	return rel, nil
}

const releaseColumns = `"app_id", "version", "owner", "image", "summary", "build", "config", "limit", "created"`

func (r *releases) Latest(ctx context.Context, appId string) (domain.Release, error) {
	rel, err := scanRelease(r.pool.QueryRow(
		ctx,
		`select `+releaseColumns+` from "releases"
		 where "app_id" = $1 order by "version" desc limit 1`,
		appId,
	))
	if err != nil {
		return domain.Release{}, classify(err, fmt.Sprintf("releases of %s", appId))
	}
	return rel, nil
}

func (r *releases) Get(ctx context.Context, appId string, version int) (domain.Release, error) {
	rel, err := scanRelease(r.pool.QueryRow(
		ctx,
		`select `+releaseColumns+` from "releases"
		 where "app_id" = $1 and "version" = $2`,
		appId, version,
	))
	if err != nil {
		return domain.Release{}, classify(err, fmt.Sprintf("release %s-v%d", appId, version))
	}
	return rel, nil
}

func (r *releases) List(ctx context.Context, appId string) ([]domain.Release, error) {
	rows, err := r.pool.Query(
		ctx,
		`select `+releaseColumns+` from "releases"
		 where "app_id" = $1 order by "version" desc`,
		appId,
	)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("releases of %s", appId))
	}
	defer rows.Close()

	found := []domain.Release{}
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		found = append(found, rel)
	}
	return found, rows.Err()
}

func (r *releases) DeleteByApp(ctx context.Context, appId string) error {
	_, err := r.pool.Exec(ctx, `delete from "releases" where "app_id" = $1`, appId)
	return classify(err, fmt.Sprintf("releases of %s", appId))
}

type containers struct {
	pool *pgxpool.Pool
}

func (c *containers) New(ctx context.Context, con domain.Container) (domain.Container, error) {
	err := c.pool.QueryRow(
		ctx,
		`
		insert into "containers" ("app_id", "release_version", "type", "num", "state")
		values ($1, $2, $3, $4, $5)
		returning "id", "created"
		`,
		con.AppId, con.ReleaseVersion, con.Type, con.Num, string(con.State),
	).Scan(&con.Id, &con.CreatedAt)
	if err != nil {
		return domain.Container{}, classify(err, fmt.Sprintf("container %s", con.String()))
	}
	return con, nil
}

func scanContainer(row pgx.Row) (domain.Container, error) {
	var (
		con   domain.Container
		state string
	)
	err := row.Scan(
		&con.Id, &con.AppId, &con.ReleaseVersion, &con.Type, &con.Num,
		&state, &con.CreatedAt,
	)
	if err != nil {
		return domain.Container{}, err
	}
	if con.State, err = domain.AsContainerState(state); err != nil {
		return domain.Container{}, err
	}
	return con, nil
}

const containerColumns = `"id", "app_id", "release_version", "type", "num", "state", "created"`

func (c *containers) Get(ctx context.Context, id string) (domain.Container, error) {
	con, err := scanContainer(c.pool.QueryRow(
		ctx,
		`select `+containerColumns+` from "containers" where "id" = $1`,
		id,
	))
	if err != nil {
		return domain.Container{}, classify(err, fmt.Sprintf("container %s", id))
	}
	return con, nil
}

func (c *containers) List(ctx context.Context, appId string) ([]domain.Container, error) {
	return c.query(
		ctx,
		`select `+containerColumns+` from "containers"
		 where "app_id" = $1 and "state" != 'destroyed'
		 order by "created"`,
		appId,
	)
}

func (c *containers) ListByType(ctx context.Context, appId string, ctype string) ([]domain.Container, error) {
	return c.query(
		ctx,
		`select `+containerColumns+` from "containers"
		 where "app_id" = $1 and "type" = $2 and "state" != 'destroyed'
		 order by "created"`,
		appId, ctype,
	)
}

func (c *containers) query(ctx context.Context, sql string, args ...any) ([]domain.Container, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "containers")
	}
	defer rows.Close()

	found := []domain.Container{}
	for rows.Next() {
		con, err := scanContainer(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		found = append(found, con)
	}
	return found, rows.Err()
}

func (c *containers) MaxNum(ctx context.Context, appId string, ctype string) (int, error) {
	max := 0
	err := c.pool.QueryRow(
		ctx,
		// destroyed rows count: nums are never reused.
		`select coalesce(max("num"), 0) from "containers"
		 where "app_id" = $1 and "type" = $2`,
		appId, ctype,
	).Scan(&max)
	if err != nil {
		return 0, classify(err, "containers")
	}
	return max, nil
}

func (c *containers) SetState(ctx context.Context, id string, state domain.ContainerState) error {
	tag, err := c.pool.Exec(
		ctx,
		`update "containers" set "state" = $1 where "id" = $2`,
		string(state), id,
	)
	if err != nil {
		return classify(err, fmt.Sprintf("container %s", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: container %s", domain.ErrMissing, id)
	}
	return nil
}

func (c *containers) SetRelease(ctx context.Context, id string, version int) error {
	tag, err := c.pool.Exec(
		ctx,
		`update "containers" set "release_version" = $1 where "id" = $2`,
		version, id,
	)
	if err != nil {
		return classify(err, fmt.Sprintf("container %s", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: container %s", domain.ErrMissing, id)
	}
	return nil
}

func (c *containers) DeleteByApp(ctx context.Context, appId string) error {
	_, err := c.pool.Exec(ctx, `delete from "containers" where "app_id" = $1`, appId)
	return classify(err, fmt.Sprintf("containers of %s", appId))
}

type keys struct {
	pool *pgxpool.Pool
}

func (k *keys) New(ctx context.Context, key domain.Key) error {
	_, err := k.pool.Exec(
		ctx,
		`insert into "keys" ("owner", "id", "public") values ($1, $2, $3)`,
		key.Owner, key.Id, key.Public,
	)
	return classify(err, fmt.Sprintf("key %s of %s", key.Id, key.Owner))
}

func (k *keys) Get(ctx context.Context, owner string, id string) (domain.Key, error) {
	key := domain.Key{Owner: owner, Id: id}
	err := k.pool.QueryRow(
		ctx,
		`select "public" from "keys" where "owner" = $1 and "id" = $2`,
		owner, id,
	).Scan(&key.Public)
	if err != nil {
		return domain.Key{}, classify(err, fmt.Sprintf("key %s of %s", id, owner))
	}
	return key, nil
}

func (k *keys) List(ctx context.Context, owner string) ([]domain.Key, error) {
	rows, err := k.pool.Query(
		ctx,
		`select "id", "public" from "keys" where "owner" = $1 order by "id"`,
		owner,
	)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("keys of %s", owner))
	}
	defer rows.Close()

	found := []domain.Key{}
	for rows.Next() {
		key := domain.Key{Owner: owner}
		if err := rows.Scan(&key.Id, &key.Public); err != nil {
			return nil, xe.Wrap(err)
		}
		found = append(found, key)
	}
	return found, rows.Err()
}

func (k *keys) Delete(ctx context.Context, owner string, id string) error {
	tag, err := k.pool.Exec(
		ctx,
		`delete from "keys" where "owner" = $1 and "id" = $2`,
		owner, id,
	)
	if err != nil {
		return classify(err, fmt.Sprintf("key %s of %s", id, owner))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: key %s of %s", domain.ErrMissing, id, owner)
	}
	return nil
}

type domains struct {
	pool *pgxpool.Pool
}

func (d *domains) Add(ctx context.Context, dom domain.DomainName) error {
	_, err := d.pool.Exec(
		ctx,
		`insert into "domains" ("domain", "app_id", "owner") values ($1, $2, $3)`,
		dom.Domain, dom.AppId, dom.Owner,
	)
	return classify(err, fmt.Sprintf("domain %s", dom.Domain))
}

func (d *domains) Remove(ctx context.Context, name string) (domain.DomainName, error) {
	dom := domain.DomainName{Domain: name}
	err := d.pool.QueryRow(
		ctx,
		`delete from "domains" where "domain" = $1 returning "app_id", "owner"`,
		name,
	).Scan(&dom.AppId, &dom.Owner)
	if err != nil {
		return domain.DomainName{}, classify(err, fmt.Sprintf("domain %s", name))
	}
	return dom, nil
}

func (d *domains) List(ctx context.Context, appId string) ([]domain.DomainName, error) {
	rows, err := d.pool.Query(
		ctx,
		`select "domain", "owner" from "domains" where "app_id" = $1 order by "domain"`,
		appId,
	)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("domains of %s", appId))
	}
	defer rows.Close()

	found := []domain.DomainName{}
	for rows.Next() {
		dom := domain.DomainName{AppId: appId}
		if err := rows.Scan(&dom.Domain, &dom.Owner); err != nil {
			return nil, xe.Wrap(err)
		}
		found = append(found, dom)
	}
	return found, rows.Err()
}
