package dest

// SchemaSQL is the destination DDL used by `dest init-schema` and the
// integration tests. Unique constraints mirror the natural keys the
// importers reuse on re-run.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS workflows (
    id            BIGSERIAL PRIMARY KEY,
    name          TEXT NOT NULL,
    icon          TEXT NOT NULL,
    color         TEXT NOT NULL,
    scope         TEXT NOT NULL DEFAULT 'global',
    workflow_type TEXT NOT NULL DEFAULT 'case',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS statuses (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL,
    system_name  TEXT NOT NULL UNIQUE,
    color        TEXT NOT NULL,
    is_success   BOOLEAN NOT NULL DEFAULT false,
    is_failure   BOOLEAN NOT NULL DEFAULT false,
    is_completed BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS groups (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    note TEXT
);

CREATE TABLE IF NOT EXISTS tags (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS roles (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    is_default BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS milestone_types (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    icon       TEXT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS configurations (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS config_variants (
    id               BIGSERIAL PRIMARY KEY,
    configuration_id BIGINT NOT NULL REFERENCES configurations(id),
    name             TEXT NOT NULL,
    UNIQUE (configuration_id, name)
);

CREATE TABLE IF NOT EXISTS template_fields (
    id           BIGSERIAL PRIMARY KEY,
    display_name TEXT NOT NULL,
    system_name  TEXT NOT NULL UNIQUE,
    field_type   TEXT NOT NULL,
    target       TEXT NOT NULL DEFAULT 'case',
    is_required  BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS field_options (
    id       BIGSERIAL PRIMARY KEY,
    field_id BIGINT NOT NULL REFERENCES template_fields(id),
    name     TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS templates (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    is_default BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS template_field_assignments (
    id          BIGSERIAL PRIMARY KEY,
    template_id BIGINT NOT NULL REFERENCES templates(id),
    field_id    BIGINT NOT NULL REFERENCES template_fields(id),
    position    INTEGER NOT NULL DEFAULT 0,
    UNIQUE (template_id, field_id)
);

CREATE TABLE IF NOT EXISTS users (
    id        BIGSERIAL PRIMARY KEY,
    email     TEXT NOT NULL UNIQUE,
    name      TEXT NOT NULL,
    access    TEXT NOT NULL DEFAULT 'member',
    is_active BOOLEAN NOT NULL DEFAULT true,
    role_id   BIGINT REFERENCES roles(id)
);

CREATE TABLE IF NOT EXISTS group_members (
    id       BIGSERIAL PRIMARY KEY,
    group_id BIGINT NOT NULL REFERENCES groups(id),
    user_id  BIGINT NOT NULL REFERENCES users(id),
    UNIQUE (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS projects (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL,
    note         JSONB,
    is_completed BOOLEAN NOT NULL DEFAULT false,
    created_by   BIGINT REFERENCES users(id),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS milestones (
    id                BIGSERIAL PRIMARY KEY,
    project_id        BIGINT NOT NULL REFERENCES projects(id),
    parent_id         BIGINT REFERENCES milestones(id),
    milestone_type_id BIGINT REFERENCES milestone_types(id),
    name              TEXT NOT NULL,
    note              JSONB,
    due_at            TIMESTAMPTZ,
    is_completed      BOOLEAN NOT NULL DEFAULT false,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
    id           BIGSERIAL PRIMARY KEY,
    project_id   BIGINT NOT NULL REFERENCES projects(id),
    milestone_id BIGINT REFERENCES milestones(id),
    template_id  BIGINT REFERENCES templates(id),
    workflow_id  BIGINT REFERENCES workflows(id),
    assignee_id  BIGINT REFERENCES users(id),
    name         TEXT NOT NULL,
    mission      JSONB,
    estimate     INTEGER,
    elapsed      INTEGER,
    is_completed BOOLEAN NOT NULL DEFAULT false,
    created_by   BIGINT REFERENCES users(id),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS repositories (
    id         BIGSERIAL PRIMARY KEY,
    project_id BIGINT NOT NULL REFERENCES projects(id),
    name       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repository_folders (
    id            BIGSERIAL PRIMARY KEY,
    repository_id BIGINT NOT NULL REFERENCES repositories(id),
    parent_id     BIGINT REFERENCES repository_folders(id),
    name          TEXT NOT NULL,
    docs          JSONB,
    position      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS repository_cases (
    id             BIGSERIAL PRIMARY KEY,
    project_id     BIGINT NOT NULL REFERENCES projects(id),
    repository_id  BIGINT NOT NULL REFERENCES repositories(id),
    folder_id      BIGINT REFERENCES repository_folders(id),
    template_id    BIGINT REFERENCES templates(id),
    workflow_id    BIGINT REFERENCES workflows(id),
    name           TEXT NOT NULL,
    position       INTEGER NOT NULL DEFAULT 0,
    estimate       INTEGER,
    is_automated   BOOLEAN NOT NULL DEFAULT false,
    automation_key TEXT,
    created_by     BIGINT REFERENCES users(id),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_steps (
    id       BIGSERIAL PRIMARY KEY,
    case_id  BIGINT NOT NULL REFERENCES repository_cases(id),
    position INTEGER NOT NULL DEFAULT 0,
    step     JSONB,
    expected JSONB,
    data     JSONB
);

CREATE TABLE IF NOT EXISTS case_field_values (
    id       BIGSERIAL PRIMARY KEY,
    case_id  BIGINT NOT NULL REFERENCES repository_cases(id),
    field_id BIGINT NOT NULL REFERENCES template_fields(id),
    value    JSONB
);

CREATE TABLE IF NOT EXISTS case_versions (
    id       BIGSERIAL PRIMARY KEY,
    case_id  BIGINT NOT NULL REFERENCES repository_cases(id),
    version  INTEGER NOT NULL,
    snapshot JSONB NOT NULL,
    UNIQUE (case_id, version)
);

CREATE TABLE IF NOT EXISTS test_runs (
    id                BIGSERIAL PRIMARY KEY,
    project_id        BIGINT NOT NULL REFERENCES projects(id),
    milestone_id      BIGINT REFERENCES milestones(id),
    config_variant_id BIGINT REFERENCES config_variants(id),
    template_id       BIGINT REFERENCES templates(id),
    workflow_id       BIGINT REFERENCES workflows(id),
    assignee_id       BIGINT REFERENCES users(id),
    name              TEXT NOT NULL,
    note              JSONB,
    elapsed           INTEGER,
    is_completed      BOOLEAN NOT NULL DEFAULT false,
    is_automated      BOOLEAN NOT NULL DEFAULT false,
    created_by        BIGINT REFERENCES users(id),
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS test_run_cases (
    id           BIGSERIAL PRIMARY KEY,
    run_id       BIGINT NOT NULL REFERENCES test_runs(id),
    case_id      BIGINT NOT NULL REFERENCES repository_cases(id),
    status_id    BIGINT REFERENCES statuses(id),
    assignee_id  BIGINT REFERENCES users(id),
    position     INTEGER NOT NULL DEFAULT 0,
    is_completed BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS test_run_results (
    id           BIGSERIAL PRIMARY KEY,
    run_case_id  BIGINT NOT NULL REFERENCES test_run_cases(id),
    status_id    BIGINT REFERENCES statuses(id),
    comment      JSONB,
    elapsed      INTEGER,
    is_automated BOOLEAN NOT NULL DEFAULT false,
    created_by   BIGINT REFERENCES users(id),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS test_run_step_results (
    id        BIGSERIAL PRIMARY KEY,
    result_id BIGINT NOT NULL REFERENCES test_run_results(id),
    step_id   BIGINT REFERENCES case_steps(id),
    status_id BIGINT REFERENCES statuses(id),
    comment   JSONB
);

CREATE TABLE IF NOT EXISTS issue_targets (
    id       BIGSERIAL PRIMARY KEY,
    name     TEXT NOT NULL UNIQUE,
    provider TEXT NOT NULL,
    base_url TEXT
);

CREATE TABLE IF NOT EXISTS issues (
    id              BIGSERIAL PRIMARY KEY,
    issue_target_id BIGINT REFERENCES issue_targets(id),
    external_key    TEXT NOT NULL,
    title           TEXT,
    url             TEXT,
    UNIQUE (issue_target_id, external_key)
);

CREATE TABLE IF NOT EXISTS case_tags (
    id      BIGSERIAL PRIMARY KEY,
    case_id BIGINT NOT NULL REFERENCES repository_cases(id),
    tag_id  BIGINT NOT NULL REFERENCES tags(id),
    UNIQUE (case_id, tag_id)
);

CREATE TABLE IF NOT EXISTS run_tags (
    id     BIGSERIAL PRIMARY KEY,
    run_id BIGINT NOT NULL REFERENCES test_runs(id),
    tag_id BIGINT NOT NULL REFERENCES tags(id),
    UNIQUE (run_id, tag_id)
);

CREATE TABLE IF NOT EXISTS session_tags (
    id         BIGSERIAL PRIMARY KEY,
    session_id BIGINT NOT NULL REFERENCES sessions(id),
    tag_id     BIGINT NOT NULL REFERENCES tags(id),
    UNIQUE (session_id, tag_id)
);

CREATE TABLE IF NOT EXISTS entity_links (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   BIGINT NOT NULL,
    url         TEXT NOT NULL,
    title       TEXT
);

CREATE TABLE IF NOT EXISTS case_issues (
    id       BIGSERIAL PRIMARY KEY,
    case_id  BIGINT NOT NULL REFERENCES repository_cases(id),
    issue_id BIGINT NOT NULL REFERENCES issues(id),
    UNIQUE (case_id, issue_id)
);

CREATE TABLE IF NOT EXISTS run_issues (
    id       BIGSERIAL PRIMARY KEY,
    run_id   BIGINT NOT NULL REFERENCES test_runs(id),
    issue_id BIGINT NOT NULL REFERENCES issues(id),
    UNIQUE (run_id, issue_id)
);

CREATE TABLE IF NOT EXISTS result_issues (
    id        BIGSERIAL PRIMARY KEY,
    result_id BIGINT NOT NULL REFERENCES test_run_results(id),
    issue_id  BIGINT NOT NULL REFERENCES issues(id),
    UNIQUE (result_id, issue_id)
);

CREATE TABLE IF NOT EXISTS session_issues (
    id         BIGSERIAL PRIMARY KEY,
    session_id BIGINT NOT NULL REFERENCES sessions(id),
    issue_id   BIGINT NOT NULL REFERENCES issues(id),
    UNIQUE (session_id, issue_id)
);
`
