package sqlinline

// SchemaPostgres is applied on startup by infra.MigratePostgres. It runs over
// the simple protocol, so several statements may share one constant.
const SchemaPostgres = `--sql fb4be2ac-0a32-4090-afe8-02160c72a186
create table if not exists processing_jobs (
    id              bigserial primary key,
    total_files     integer not null,
    processed_files integer not null default 0,
    file_names      text[] not null default '{}',
    structured      boolean not null default false,
    status          text not null default 'pending'
                    check (status in ('pending', 'processing', 'paused', 'completed', 'failed')),
    created_at      timestamptz not null default now(),
    updated_at      timestamptz not null default now(),
    constraint processing_jobs_progress check (processed_files >= 0 and processed_files <= total_files)
);
create index if not exists idx_processing_jobs_status on processing_jobs(status);

create table if not exists processing_results (
    id          bigserial primary key,
    job_id      bigint not null references processing_jobs(id) on delete cascade,
    file_name   text not null,
    file_index  integer not null,
    result      jsonb,
    outcome     text check (outcome in ('success', 'failure')),
    created_at  timestamptz not null default now(),
    updated_at  timestamptz not null default now(),
    unique (job_id, file_index)
);

create table if not exists integration_tokens (
    id          bigserial primary key,
    provider    text not null unique,
    token       text not null,
    properties  jsonb not null default '{}'::jsonb,
    created_at  timestamptz not null default now(),
    updated_at  timestamptz not null default now()
);
`
