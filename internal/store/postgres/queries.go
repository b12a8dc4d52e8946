package postgres

const queryInsertProfile = `
INSERT INTO event_profile (name, description, profile_version, effective_from, effective_to, timezone, created_at, updated_at, created_by, last_changed_by)
VALUES ($1, $2, 1, $3, $4, $5, $6, $6, $7, $7)
RETURNING id
`

const queryGetProfile = `
SELECT id, name, description, profile_version, effective_from, effective_to, timezone, created_at, updated_at
FROM event_profile
WHERE id = $1
`

const queryFindProfileIDByName = `
SELECT id FROM event_profile WHERE name = $1
`

const queryFindProfileIDByNameFold = `
SELECT id FROM event_profile WHERE lower(name) = lower($1) ORDER BY id LIMIT 1
`

const queryListProfiles = `
SELECT id, name, description, profile_version, effective_from, effective_to, timezone, created_at, updated_at
FROM event_profile
WHERE ($3 = '' OR name ILIKE '%' || $3 || '%')
ORDER BY id DESC
LIMIT $1 OFFSET $2
`

const queryUpdateProfile = `
UPDATE event_profile
SET name = $2,
    description = $3,
    effective_from = $4,
    effective_to = $5,
    timezone = $6,
    profile_version = profile_version + 1,
    updated_at = $7,
    last_changed_by = $8
WHERE id = $1
RETURNING profile_version
`

const queryDeleteProfile = `
DELETE FROM event_profile WHERE id = $1
`

const queryBumpProfileVersion = `
UPDATE event_profile
SET profile_version = profile_version + 1, updated_at = $2, last_changed_by = $3
WHERE id = $1
RETURNING profile_version
`

const queryListProfileEvents = `
SELECT id, profile_id, event_code, anchor_event_code, offset_minutes, sequence, is_mandatory, inclusion_rule_id, created_at, updated_at
FROM profile_event_map
WHERE profile_id = $1
ORDER BY sequence ASC, event_code ASC
`

const queryGetProfileEvent = `
SELECT id, profile_id, event_code, anchor_event_code, offset_minutes, sequence, is_mandatory, inclusion_rule_id, created_at, updated_at
FROM profile_event_map
WHERE profile_id = $1 AND event_code = $2
`

const queryInsertProfileEvent = `
INSERT INTO profile_event_map (profile_id, event_code, anchor_event_code, offset_minutes, sequence, is_mandatory, inclusion_rule_id, created_at, updated_at, created_by, last_changed_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $9)
RETURNING id
`

const queryUpdateProfileEvent = `
UPDATE profile_event_map
SET anchor_event_code = $3,
    offset_minutes = $4,
    sequence = $5,
    is_mandatory = $6,
    inclusion_rule_id = $7,
    updated_at = $8,
    last_changed_by = $9
WHERE profile_id = $1 AND event_code = $2
`

const queryDeleteProfileEvent = `
DELETE FROM profile_event_map WHERE profile_id = $1 AND event_code = $2
`

const queryListInstancesByParent = `
SELECT id, parent_id, po_header_id, shipment_header_id, po_number, shipment_number,
       profile_id, profile_version, event_code,
       baseline_date, planned_date, planned_date_manual_override, actual_date,
       status, status_reason, timezone, created_at, updated_at, created_by, last_changed_by
FROM event_instance
WHERE CASE WHEN $1 = 'PURCHASE_ORDER' THEN po_header_id ELSE shipment_header_id END = $2
ORDER BY id DESC
`

const queryDeleteInstancesByParent = `
DELETE FROM event_instance
WHERE CASE WHEN $1 = 'PURCHASE_ORDER' THEN po_header_id ELSE shipment_header_id END = $2
`

const queryInsertInstance = `
INSERT INTO event_instance (id, parent_id, po_header_id, shipment_header_id, po_number, shipment_number,
    profile_id, profile_version, event_code,
    baseline_date, planned_date, planned_date_manual_override, actual_date,
    status, status_reason, timezone, created_at, updated_at, created_by, last_changed_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17, $18, $18)
`

const queryGetPurchaseOrderInfo = `
SELECT po_number, created_at FROM po_header WHERE id = $1
`

const queryGetShipmentInfo = `
SELECT shipment_number, created_at FROM shipment_header WHERE id = $1
`
