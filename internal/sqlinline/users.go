package sqlinline

const QUserEnsure = `--sql 0bb48737-9f60-4966-bce4-d2ccdc917bea
insert into users (id)
values ($1::uuid)
on conflict (id) do nothing;
`

const QUserGetProfile = `--sql 0451d8e3-6952-43f8-8658-bf3842de6fa8
select id, display_name, bio, locale, coalesce(avatar_url, ''), coalesce(avatar_path, ''), updated_at
from users
where id = $1::uuid;
`

const QUserUpdateProfile = `--sql ee34ac41-c401-43ce-bd40-1faef8d185bd
update users
set display_name = coalesce($2::text, display_name),
    bio = coalesce($3::text, bio),
    locale = coalesce($4::text, locale),
    updated_at = now()
where id = $1::uuid
returning id, display_name, bio, locale, coalesce(avatar_url, ''), coalesce(avatar_path, ''), updated_at;
`

const QUserSetAvatar = `--sql d9dfd442-a106-4cc9-924d-ab0b1d23feb5
update users
set avatar_url = $2::text,
    avatar_path = $3::text,
    updated_at = now()
where id = $1::uuid
returning id, display_name, bio, locale, coalesce(avatar_url, ''), coalesce(avatar_path, ''), updated_at;
`

const QUserClearAvatar = `--sql 230e48b3-8a64-42c3-b891-5393de85c89a
update users
set avatar_url = null,
    avatar_path = null,
    updated_at = now()
where id = $1::uuid
returning id, display_name, bio, locale, coalesce(avatar_url, ''), coalesce(avatar_path, ''), updated_at;
`
