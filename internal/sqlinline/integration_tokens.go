package sqlinline

const QIntegrationTokenGet = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text;
`

const QIntegrationTokenUpsert = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`

const QIntegrationTokenDelete = `--sql 0d1f7b9e-3c55-4a57-9a8f-52c7e1b4f0a6
delete from integration_tokens
where provider = $1::text;
`
