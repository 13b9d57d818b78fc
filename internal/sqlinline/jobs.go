// Package sqlinline holds every SQL statement the service executes. Each
// constant starts with a `--sql <uuid>` marker line that the SQL runner strips
// before execution and uses as the log correlation tag. The sqllint tool
// enforces that no query text lives outside this package.
package sqlinline

const QInsertJob = `--sql aa373574-553b-4606-aadf-0e13e0387d10
insert into jobs (
    id, type, status, prompt, source_digest, cache_key, country, created_at, updated_at
)
values ($1, $2, $3, $4, nullif($5, ''), $6, nullif($7, ''), $8, $9);
`

const QSelectJob = `--sql 491c006e-913e-4fff-a4fb-83bf7e0473d6
select
    id, type, status, prompt, coalesce(source_digest, ''), cache_key,
    coalesce(task_id, ''), coalesce(error, ''), coalesce(country, ''),
    artifact_path, artifact_url, artifact_format, artifact_size_bytes,
    scorecard, rating, rating_notes, rated_at,
    created_at, updated_at
from jobs
where id = $1;
`

const QUpdateJob = `--sql b03a6dfa-3132-4a7d-9354-8be4c24d0d8c
update jobs
set
    status = coalesce($2, status),
    task_id = coalesce($3, task_id),
    error = coalesce($4, error),
    artifact_path = coalesce($5, artifact_path),
    artifact_url = coalesce($6, artifact_url),
    artifact_format = coalesce($7, artifact_format),
    artifact_size_bytes = coalesce($8, artifact_size_bytes),
    scorecard = coalesce($9, scorecard),
    rating = coalesce($10, rating),
    rating_notes = coalesce($11, rating_notes),
    rated_at = coalesce($12, rated_at),
    updated_at = $13
where id = $1;
`

const QRecentJobs = `--sql c033ca5f-192b-4888-81bb-dbaccd304a65
select
    id, type, status, prompt, coalesce(source_digest, ''), cache_key,
    coalesce(task_id, ''), coalesce(error, ''), coalesce(country, ''),
    artifact_path, artifact_url, artifact_format, artifact_size_bytes,
    scorecard, rating, rating_notes, rated_at,
    created_at, updated_at
from jobs
order by created_at desc
limit $1;
`

const QFindCachedJob = `--sql 53e5d0fa-ffdd-4b03-a45d-4b24670d49d8
select
    id, type, status, prompt, coalesce(source_digest, ''), cache_key,
    coalesce(task_id, ''), coalesce(error, ''), coalesce(country, ''),
    artifact_path, artifact_url, artifact_format, artifact_size_bytes,
    scorecard, rating, rating_notes, rated_at,
    created_at, updated_at
from jobs
where type = $1
  and cache_key = $2
  and status = 'done'
  and artifact_path is not null
order by created_at desc
limit 1;
`

const QPing = `--sql 26b7e23c-0b28-4e6f-b864-bfb36863f928
select 1;
`
