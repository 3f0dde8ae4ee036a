package sqlinline

const QCreativeInsert = `--sql d5db7358-0775-4bb6-b700-cf98d1224b79
insert into creatives (id, request_id, owner_id, status, params)
values ($1::uuid, $2::uuid, $3::uuid, 'queued', $4::jsonb)
returning created_at, updated_at;
`

const QCreativeGetByID = `--sql 866e3300-e82c-4eab-b3c1-b81182cd834a
select id, request_id, owner_id, status, result_url, error_message, params, processed_at, created_at, updated_at
from creatives
where id = $1::uuid;
`

const QCreativeListByRequest = `--sql 49a1acfb-d009-4f0b-aa4f-5540ca0ba859
select id, request_id, owner_id, status, result_url, error_message, params, processed_at, created_at, updated_at
from creatives
where request_id = $1::uuid
order by created_at asc, id asc;
`

const QCreativeMarkProcessing = `--sql fa826228-3d65-46e9-94e6-f4ed3b6c531b
update creatives
set status = 'processing',
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status in ('draft', 'queued', 'processing');
`

const QCreativeComplete = `--sql 52ad8935-4fc8-4474-a96b-55614fe5d42f
update creatives
set status = 'completed',
    result_url = $2::text,
    processed_at = $3::timestamptz,
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCreativeFail = `--sql 5a14f952-55e5-4ef7-b2cf-e5883e0ae17a
update creatives
set status = 'failed',
    error_message = $2::text,
    result_url = null,
    processed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status in ('draft', 'queued', 'processing');
`

const QCreativeMarkQueued = `--sql 2a183823-afb7-40e3-bca1-e9a979957ee2
update creatives
set status = 'queued',
    error_message = null,
    processed_at = null,
    updated_at = now()
where id = $1::uuid
  and status = 'failed';
`
