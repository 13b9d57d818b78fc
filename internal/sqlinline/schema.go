package sqlinline

// Schema statements run one at a time at startup; pgx's extended protocol
// rejects multi-statement strings.

const QCreateJobsTable = `--sql 8a050d7c-d71d-44e8-843f-bbbdbe13ebc7
create table if not exists jobs (
    id uuid primary key,
    type text not null,
    status text not null,
    prompt text not null,
    source_digest text,
    cache_key text not null,
    task_id text,
    error text,
    country text,
    artifact_path text,
    artifact_url text,
    artifact_format text,
    artifact_size_bytes bigint,
    scorecard jsonb,
    rating smallint,
    rating_notes text,
    rated_at timestamptz,
    created_at timestamptz not null,
    updated_at timestamptz not null
);
`

const QCreateJobsCacheIndex = `--sql 1cbae856-5c40-4c00-8741-f7ffe49d472c
create index if not exists jobs_cache_lookup_idx
    on jobs (type, cache_key, created_at desc)
    where status = 'done' and artifact_path is not null;
`

const QCreateJobsCreatedIndex = `--sql 988c326d-ebce-4937-b984-6f8a3b8ae68d
create index if not exists jobs_created_at_idx
    on jobs (created_at desc);
`
