package sqlinline

// QJobNextPending selects the oldest available pending job. Ties on
// created_at are broken by the insertion sequence.
const QJobNextPending = `--sql f1dff9b8-141b-4920-b44d-b7e8a16e17a6
select id, seq, creative_id, status, attempts, max_attempts, priority, error_message,
       created_at, available_at, processing_started_at, processing_completed_at
from jobs
where status = 'pending'
  and available_at <= now()
order by created_at asc, seq asc
limit 1;
`

// QJobClaim is the compare-and-swap claim. Zero rows affected means another
// consumer won.
const QJobClaim = `--sql e4b7f404-4c15-4a74-9ba8-9a3623a7922e
update jobs
set status = 'processing',
    attempts = least($2::int, max_attempts),
    processing_started_at = now(),
    processing_completed_at = null,
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

const QJobComplete = `--sql d38d5667-b697-455c-965c-cfb83e37a88d
update jobs
set status = 'completed',
    processing_completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QJobFail = `--sql 8dd2063f-9615-438b-bc36-41029670bd89
update jobs
set status = 'failed',
    error_message = $2::text,
    processing_completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QJobRequeue = `--sql 898e1595-734b-4afc-83ef-d5162f0e7475
update jobs
set status = 'pending',
    available_at = $2::timestamptz,
    processing_started_at = null,
    processing_completed_at = null,
    updated_at = now()
where id = $1::uuid
  and status = 'failed'
  and attempts < max_attempts;
`

const QJobGetByID = `--sql 44975336-b662-406f-80ad-f25a8031be22
select id, seq, creative_id, status, attempts, max_attempts, priority, error_message,
       created_at, available_at, processing_started_at, processing_completed_at
from jobs
where id = $1::uuid;
`

const QJobInsert = `--sql d354bca3-a17c-45eb-8142-bba672d40b17
insert into jobs (id, creative_id, status, attempts, max_attempts, priority)
values ($1::uuid, $2::uuid, 'pending', 0, $3::int, $4::int)
returning seq, created_at, available_at;
`
