package sqlinline

const QInsertJob = `--sql aa606c31-3eb1-4944-a480-011fa4336459
insert into processing_jobs (total_files, processed_files, file_names, structured, status, created_at, updated_at)
values ($1::int, 0, $2::text[], $3::boolean, 'pending', now(), now())
returning id, total_files, processed_files, file_names, structured, status, created_at, updated_at;
`

const QSelectJob = `--sql a67d6fd0-5595-4580-b631-61ce336b9b24
select id, total_files, processed_files, file_names, structured, status, created_at, updated_at
from processing_jobs
where id = $1::bigint;
`

const QListJobsByStatus = `--sql d384127c-b542-4164-ad54-aeb7a994bb91
select id, total_files, processed_files, file_names, structured, status, created_at, updated_at
from processing_jobs
where status = any($1::text[])
order by id asc;
`

// QUpdateJobStatus leaves processed_files untouched when $3 is null.
// Completed and failed rows are never updated; no row comes back for them.
const QUpdateJobStatus = `--sql d407bb16-ef99-4909-bb92-c3dba9ae7f21
update processing_jobs
set status = $2::text,
    processed_files = coalesce($3::int, processed_files),
    updated_at = now()
where id = $1::bigint
  and status not in ('completed', 'failed')
returning id, total_files, processed_files, file_names, structured, status, created_at, updated_at;
`
