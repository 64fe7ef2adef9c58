package sqlinline

const QSelectIntegrationToken = `--sql ae07deb0-4c12-4784-80ed-3275986f735f
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 456d077c-8b00-4c04-9363-736e4cc7796c
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
