package postgres

const applicationColumns = `
    id, profile_id, opportunity_id, stage, score, channel,
    follow_ups_sent, interview_rounds, version, created_at, last_transition
`

const queryGetApplication = `
SELECT ` + applicationColumns + `
FROM applications
WHERE id = $1
`

const queryUpdateApplication = `
UPDATE applications
SET stage = $1, score = $2, channel = $3, follow_ups_sent = $4,
    interview_rounds = $5, version = $6, last_transition = $7
WHERE id = $8
  AND version = $9
`

const queryGetApplicationVersion = `
SELECT version
FROM applications
WHERE id = $1
`

const queryCloseSiblings = `
UPDATE applications
SET stage = 'REJECTED', version = version + 1, last_transition = $1
WHERE profile_id = $2
  AND id <> $3
  AND stage NOT IN ('ACCEPTED', 'REJECTED', 'GHOSTED')
`

const queryGetActiveApplications = `
SELECT ` + applicationColumns + `
FROM applications
WHERE stage NOT IN ('ACCEPTED', 'REJECTED', 'GHOSTED')
ORDER BY id
LIMIT $1 OFFSET $2
`

const queryListApplications = `
SELECT ` + applicationColumns + `
FROM applications
WHERE ($1 = '' OR stage = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryFunnelCounts = `
SELECT stage, COUNT(*)
FROM applications
GROUP BY stage
`

const queryInsertApplication = `
INSERT INTO applications (` + applicationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryGetOpportunity = `
SELECT id, source, source_url, company, title, description, location,
       salary_min, salary_max, fingerprint, discovered_at, updated_at
FROM opportunities
WHERE id = $1
`

const queryUpsertOpportunity = `
INSERT INTO opportunities (id, source, source_url, company, title, description, location,
                           salary_min, salary_max, fingerprint, discovered_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (fingerprint) DO UPDATE
SET source_url = EXCLUDED.source_url,
    description = EXCLUDED.description,
    location = EXCLUDED.location,
    salary_min = EXCLUDED.salary_min,
    salary_max = EXCLUDED.salary_max,
    updated_at = EXCLUDED.updated_at
RETURNING id, discovered_at
`

const queryAppendInteraction = `
INSERT INTO interactions (id, application_id, kind, channel, summary, outcome, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListInteractions = `
SELECT id, application_id, kind, channel, summary, outcome, created_at
FROM interactions
WHERE application_id = $1
ORDER BY created_at DESC
LIMIT $2
`

const queryGetOfferByApplication = `
SELECT id, application_id, salary, currency, benefits, conditions, deadline, status, created_at
FROM offers
WHERE application_id = $1
`

const queryInsertOffer = `
INSERT INTO offers (id, application_id, salary, currency, benefits, conditions, deadline, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryUpdateOfferStatus = `
UPDATE offers
SET status = $1
WHERE id = $2
`

const queryGetExpiringOffers = `
SELECT o.id, o.application_id, o.salary, o.currency, o.benefits, o.conditions, o.deadline, o.status, o.created_at
FROM offers o
JOIN applications a ON o.application_id = a.id
WHERE o.status = 'PENDING'
  AND o.deadline < $1
  AND a.stage NOT IN ('ACCEPTED', 'REJECTED', 'GHOSTED')
ORDER BY o.deadline ASC
`

const queryInsertEvent = `
INSERT INTO scheduled_events (id, application_id, kind, scheduled_at, notes, prep_artifact_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListEvents = `
SELECT id, application_id, kind, scheduled_at, notes, prep_artifact_ref, created_at
FROM scheduled_events
WHERE application_id = $1
ORDER BY scheduled_at ASC
`

const queryGetUnpreppedEvents = `
SELECT e.id, e.application_id, e.kind, e.scheduled_at, e.notes, e.prep_artifact_ref, e.created_at
FROM scheduled_events e
JOIN applications a ON e.application_id = a.id
WHERE e.scheduled_at >= $1
  AND e.scheduled_at < $2
  AND e.prep_artifact_ref = ''
  AND a.stage NOT IN ('ACCEPTED', 'REJECTED', 'GHOSTED')
ORDER BY e.scheduled_at ASC
`

const querySetPrepArtifact = `
UPDATE scheduled_events
SET prep_artifact_ref = $1
WHERE id = $2
`

const queryInsertReservation = `
INSERT INTO reservations (fingerprint, status, granted_at)
VALUES ($1, 'granted', $2)
ON CONFLICT (fingerprint) DO UPDATE
SET status = 'granted', granted_at = EXCLUDED.granted_at
WHERE reservations.status = 'released'
RETURNING fingerprint
`

const queryCommitReservation = `
UPDATE reservations
SET status = 'committed', outcome = $1, committed_at = $2
WHERE fingerprint = $3
  AND status = 'granted'
`

const queryReleaseReservation = `
UPDATE reservations
SET status = 'released'
WHERE fingerprint = $1
  AND status = 'granted'
`

const queryReleaseStaleReservations = `
WITH stale AS (
    SELECT fingerprint FROM reservations
    WHERE status = 'granted'
      AND granted_at < $1
    ORDER BY granted_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE reservations
SET status = 'released'
FROM stale
WHERE reservations.fingerprint = stale.fingerprint
`
