package sqlinline

const QRequestInsert = `--sql f5530811-5f95-4bf6-bf51-d341c508f24b
insert into creative_requests (id, owner_id, formats, status, country)
values ($1::uuid, $2::uuid, $3::text[], 'pending', $4::text)
returning created_at, updated_at;
`

const QRequestGetByID = `--sql aea7ea68-97e6-4ffb-bd45-a98d8c35cf56
select id, owner_id, formats, status, country, created_at, updated_at
from creative_requests
where id = $1::uuid;
`

const QRequestChildStatuses = `--sql 67f92308-241f-4f7a-b343-6107f454f0d2
select status
from creatives
where request_id = $1::uuid
order by created_at asc, id asc;
`

// QRequestUpdateStatus only writes when the value actually changes so an
// idempotent recompute does not fire a change notification.
const QRequestUpdateStatus = `--sql 398567f6-530d-4c32-a016-147f687be86d
update creative_requests
set status = $2::text,
    updated_at = now()
where id = $1::uuid
  and status <> $2::text;
`

const QRequestMarkProcessing = `--sql a73e9734-8403-43bf-afaf-175406b70262
update creative_requests
set status = 'processing',
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

// QRequestSnapshots pages through requests whose children are all terminal.
// Requests with unfinished or no children are never corrected by the sweep.
const QRequestSnapshots = `--sql a96cdde2-2039-48e3-8ab3-c5f175f1f6f9
select r.id, r.status, array_agg(c.status order by c.created_at, c.id) as children
from creative_requests r
join creatives c on c.request_id = r.id
where r.id > $1::uuid
group by r.id, r.status
having bool_and(c.status in ('completed', 'failed'))
order by r.id asc
limit $2::int;
`

const QRequestListByOwner = `--sql 0a3c6415-0c7e-40ee-9343-ba3b3c243e00
select id, owner_id, formats, status, country, created_at, updated_at
from creative_requests
where owner_id = $1::uuid
order by created_at desc
limit $2::int;
`
