package sqlinline

const QJobStatsTotals = `--sql 5bf04a31-7f26-4551-b983-29150f5e9e47
select
    count(*) as total,
    count(*) filter (where status = 'pending') as pending,
    count(*) filter (where status = 'processing') as processing,
    count(*) filter (where status = 'done') as done,
    count(*) filter (where status = 'error') as error,
    count(*) filter (where type = 'text') as text_jobs,
    count(*) filter (where type = 'image') as image_jobs,
    avg((scorecard->>'score')::float8) as avg_score,
    count(*) filter (where rating > 0) as ratings_up,
    count(*) filter (where rating < 0) as ratings_down
from jobs;
`

const QJobStatsCountries = `--sql dd687ffe-e81b-4f1f-bb9d-2f88a942ab6c
select country, count(*) as total
from jobs
where country is not null and country <> ''
group by country
order by total desc, country asc
limit 10;
`
