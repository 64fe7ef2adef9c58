package sqlinline

const QUpsertResult = `--sql 8cb55909-74fb-495f-885a-e9bd25614b32
insert into processing_results (job_id, file_name, file_index, result, outcome, created_at, updated_at)
values ($1::bigint, $2::text, $3::int, $4::jsonb, $5::text, now(), now())
on conflict (job_id, file_index) do update set
    file_name = excluded.file_name,
    result = excluded.result,
    outcome = excluded.outcome,
    updated_at = now()
returning id, job_id, file_name, file_index, result, coalesce(outcome, ''), created_at, updated_at;
`

const QListResultsByJob = `--sql daea73c3-17c6-4be8-945c-f8f766a92a7c
select id, job_id, file_name, file_index, result, coalesce(outcome, ''), created_at, updated_at
from processing_results
where job_id = $1::bigint
order by file_index asc;
`
