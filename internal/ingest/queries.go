package ingest

// SQL templates executed on the remote analytics service. Placeholders are
// substituted with redash.BuildQuery; timestamps use redash.FormatTimestamp.

// moderationTaskTypes is the task-type whitelist shared by the auditlog and
// corrections queries.
const moderationTaskTypes = `'PreFilterPictures', 'ProductModeration', 'DoubtfulModeration', 'ProductApproval',
                     'ImageChoice', 'ImageBackgroundRemoval', 'UpdatePictureFilter', 'ImageUpdate', 'ProductUpdate'`

// auditlogQuery reconstructs one row per moderation task from the audit
// log. The filter window extends 15 minutes past {{end}} so close events
// slightly after the bound still attach to tasks started inside it.
const auditlogQuery = `
WITH dates AS (
  SELECT
    '{{start}}'::timestamp AS start_date,
    '{{end}}'::timestamp AS end_date
),

filtered_audit AS (
  SELECT taskid, username, tasktype, auditsubtype, auditdate, productid, imageid, jsonvalue
  FROM auditlog
  WHERE
    auditdate >= (SELECT start_date FROM dates) AND
    auditdate <= (SELECT end_date FROM dates) + interval '15 minutes'
    AND tasktype IN (` + moderationTaskTypes + `)
),

task_info AS (
  SELECT taskid, MAX(username) AS username, MAX(tasktype) AS tasktype
  FROM filtered_audit
  GROUP BY taskid
),

user_actions AS (
  SELECT
    taskid,
    COUNT(DISTINCT CASE WHEN auditsubtype = 18 THEN productid END) AS count_18,
    COUNT(DISTINCT CASE WHEN auditsubtype = 10 THEN productid END) AS count_10,
    COUNT(DISTINCT CASE WHEN auditsubtype = 83 THEN productid END) AS count_83,
    COUNT(DISTINCT CASE WHEN auditsubtype = 82 AND imageid IS NOT NULL THEN productid END) AS count_82
  FROM filtered_audit
  WHERE auditsubtype IN (18, 10, 83, 82) OR tasktype = 'ImageUpdate'
  GROUP BY taskid
),

task_timeline AS (
  SELECT
    taskid,
    MAX(CASE WHEN auditsubtype = 38 THEN auditdate END) AS start_time,
    MAX(CASE WHEN auditsubtype = 39 THEN auditdate END) AS finish_time,
    MAX(CASE WHEN auditsubtype = 38 THEN jsonvalue::text END) AS json_value_38,
    MAX(CASE WHEN auditsubtype = 39 THEN jsonvalue::text END) AS json_value_39,
    MAX(CASE WHEN auditsubtype = 55 THEN jsonvalue::text END) AS json_value_55,
    CASE
      WHEN MAX(CASE WHEN auditsubtype = 55 THEN 1 END) = 1 THEN 'timeout'
      WHEN MAX(CASE WHEN auditsubtype = 39 THEN 1 END) IS NULL THEN 'not_closed'
      ELSE 'normal'
    END AS close_status
  FROM filtered_audit
  WHERE auditsubtype IN (38, 39, 55)
  GROUP BY taskid
),

task_close_info AS (
  SELECT
    taskid,
    MAX(auditdate) AS max_audit_date,
    MAX(CASE WHEN auditsubtype IN (39, 55) THEN auditdate END) AS close_event_date
  FROM filtered_audit
  GROUP BY taskid
),

-- For timed-out tasks the effective finish is the last user action before
-- the close event, not the close event itself.
task_last_user_action AS (
  SELECT DISTINCT
    fa.taskid,
    LAST_VALUE(fa.auditdate) OVER (
      PARTITION BY fa.taskid
      ORDER BY fa.auditdate
      ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING
    ) AS last_user_action_date
  FROM filtered_audit fa
  INNER JOIN task_close_info tci ON fa.taskid = tci.taskid
  INNER JOIN task_info ti ON fa.taskid = ti.taskid
  WHERE fa.auditsubtype NOT IN (39, 55)
    AND (tci.close_event_date IS NULL OR fa.auditdate < tci.close_event_date)
    AND (
      CASE
        WHEN ti.tasktype = 'ImageBackgroundRemoval' THEN
          fa.auditsubtype IN (7, 18, 76, 66, 67, 63, 65, 77, 68)
        ELSE
          fa.auditsubtype <> 63
      END
    )
),

task_timeout AS (
  SELECT
    tci.taskid,
    CASE
      WHEN tci.close_event_date IS NULL THEN tci.max_audit_date
      ELSE COALESCE(tlua.last_user_action_date, tci.max_audit_date)
    END AS timeout_date
  FROM task_close_info tci
  LEFT JOIN task_last_user_action tlua ON tci.taskid = tlua.taskid
),

task_products AS (
  SELECT taskid, ARRAY_AGG(DISTINCT productid ORDER BY productid) AS product_ids
  FROM filtered_audit
  WHERE productid IS NOT NULL
  GROUP BY taskid
),

raw_data AS (
  SELECT
    ti.taskid AS task_id,
    ti.username AS user_name,
    ti.tasktype AS task_type,
    tl.start_time,
    COALESCE(tl.finish_time, tt.timeout_date) AS finish_time,
    tl.close_status AS close_status,
    COALESCE(tl.finish_time, tt.timeout_date) - tl.start_time AS raw_duration,

    -- items: [configured, assigned, finished] with per-task-type sources
    CASE
      WHEN ti.tasktype = 'ProductUpdate' THEN
        ARRAY[
          COALESCE((tl.json_value_39::json->>'NumberOfProduct_Images_Configured')::int, (tl.json_value_55::json->>'NumberOfProduct_Images_Configured')::int, 0),
          COALESCE((tl.json_value_39::json->>'NumberOfProductAssigned')::int, (tl.json_value_55::json->>'NumberOfProductAssigned')::int, 0),
          COALESCE(NULLIF(ua.count_18, 0), ua.count_83, 0)
        ]
      WHEN ti.tasktype = 'UpdatePictureFilter' THEN
        ARRAY[
          COALESCE((tl.json_value_39::json->>'NumberOfProduct_Images_Configured')::int, (tl.json_value_55::json->>'NumberOfProduct_Images_Configured')::int, (tl.json_value_38::json->>'NumberOfProduct_Images_Configured')::int, 0),
          COALESCE((tl.json_value_39::json->>'NumberOfProductAssigned')::int, (tl.json_value_55::json->>'NumberOfProductAssigned')::int, (tl.json_value_38::json->>'NumberOfProductAssigned')::int, 0),
          COALESCE(ua.count_10, 0) + COALESCE(ua.count_18, 0)
        ]
      WHEN ti.tasktype = 'ImageUpdate' THEN
        ARRAY[
          COALESCE((tl.json_value_39::json->>'NumberOfProduct_Images_Configured')::int, (tl.json_value_55::json->>'NumberOfProduct_Images_Configured')::int, (tl.json_value_38::json->>'NumberOfProduct_Images_Configured')::int, 0),
          COALESCE((tl.json_value_39::json->>'NumberOfProductAssigned')::int, (tl.json_value_55::json->>'NumberOfProductAssigned')::int, (tl.json_value_38::json->>'NumberOfProductAssigned')::int, 0),
          COALESCE(ua.count_82, 0)
        ]
      ELSE
        ARRAY[
          COALESCE((tl.json_value_39::json->>'NumberOfProduct_Images_Configured')::int, (tl.json_value_55::json->>'NumberOfProduct_Images_Configured')::int, 0),
          CASE
            WHEN ti.tasktype IN ('ImageBackgroundRemoval', 'ImageChoice') THEN
              COALESCE((tl.json_value_39::json->>'NumberOfImageAssigned')::int, (tl.json_value_55::json->>'NumberOfImageAssigned')::int, 0)
            ELSE
              COALESCE((tl.json_value_39::json->>'NumberOfProductAssigned')::int, (tl.json_value_55::json->>'NumberOfProductAssigned')::int, 0)
          END,
          CASE
            WHEN ti.tasktype IN ('ImageBackgroundRemoval', 'ImageChoice') THEN
              COALESCE((tl.json_value_39::json->>'NumberOfImageFinished')::int, (tl.json_value_55::json->>'NumberOfImageFinished')::int, 0)
            ELSE
              COALESCE((tl.json_value_39::json->>'NumberOfProductFinished')::int, (tl.json_value_55::json->>'NumberOfProductFinished')::int, 0)
          END
        ]
    END AS items,

    tp.product_ids AS product_ids,

    CASE
      WHEN tl.json_value_39 IS NOT NULL THEN
        ARRAY(
          SELECT unnest(ARRAY(SELECT (jsonb_array_elements_text(COALESCE((tl.json_value_39::json->>'ListOfAssignedProductIds')::text, '[]')::jsonb))::integer))
          EXCEPT
          SELECT unnest(ARRAY(SELECT (jsonb_array_elements_text(COALESCE((tl.json_value_39::json->>'ListOfFinishedProductIds')::text, '[]')::jsonb))::integer))
        )
      WHEN tl.json_value_55 IS NOT NULL THEN
        ARRAY(
          SELECT unnest(ARRAY(SELECT (jsonb_array_elements_text(COALESCE((tl.json_value_55::json->>'ListOfAssignedProductIds')::text, '[]')::jsonb))::integer))
          EXCEPT
          SELECT unnest(ARRAY(SELECT (jsonb_array_elements_text(COALESCE((tl.json_value_55::json->>'ListOfFinishedProductIds')::text, '[]')::jsonb))::integer))
        )
      ELSE
        ARRAY[]::integer[]
    END AS not_finished_product_ids

  FROM task_info ti
    INNER JOIN task_timeline tl ON ti.taskid = tl.taskid
    LEFT JOIN task_timeout tt ON ti.taskid = tt.taskid
    LEFT JOIN user_actions ua ON ti.taskid = ua.taskid
    LEFT JOIN task_products tp ON ti.taskid = tp.taskid
  WHERE
    tl.start_time IS NOT NULL AND
    ((tl.start_time >= (SELECT start_date FROM dates) AND tl.start_time <= (SELECT end_date FROM dates)) OR
     (COALESCE(tl.finish_time, tt.timeout_date) >= (SELECT start_date FROM dates) AND COALESCE(tl.finish_time, tt.timeout_date) <= (SELECT end_date FROM dates)))
)

SELECT
  task_id,
  user_name,
  task_type,
  start_time,
  finish_time,
  close_status,
  -- zero finished products means zero credited time
  CASE
    WHEN items[3] = 0 THEN '00:00'
    ELSE TO_CHAR(raw_duration, 'MI:SS')
  END AS time_spent,
  CASE
    WHEN items[3] = 0 THEN 0
    ELSE EXTRACT(EPOCH FROM raw_duration)::integer
  END AS time_spent_sec,
  items,
  product_ids,
  not_finished_product_ids
FROM raw_data
ORDER BY start_time;
`

// timetrackerQuery pulls manually tracked task entries.
const timetrackerQuery = `
WITH dates AS (
  SELECT
    '{{start}}'::timestamp AS start_date,
    '{{end}}'::timestamp AS end_date
)
SELECT
  id AS source_id,
  username AS user_name,
  tasktype AS task_type,
  startdate AS start_time,
  finishdate AS finish_time,
  TO_CHAR((finishdate - startdate), 'HH24:MI:SS') AS time_spent,
  EXTRACT(EPOCH FROM (finishdate - startdate))::INTEGER AS time_spent_sec,
  note
FROM timetracker
WHERE
  startdate >= (SELECT start_date FROM dates)
  AND startdate <= (SELECT end_date FROM dates)
  AND tasktype IN ('Complex', 'Custom')
ORDER BY startdate;
`

// correctionsQuery detects user actions on a product after the owning
// task was closed. Out-of-task actions are scanned 12 hours past {{end}}
// so late edits still match tasks closed inside the window.
const correctionsQuery = `
WITH params AS (
    SELECT
        '{{start}}'::timestamp AS start_date,
        '{{end}}'::timestamp AS end_date
),

closed_tasks AS (
    SELECT
        taskid,
        username,
        tasktype,
        MAX(CASE WHEN auditsubtype = 38 THEN auditdate END) AS start_time,
        MAX(CASE WHEN auditsubtype IN (39, 55) THEN auditdate END) AS close_time,
        ARRAY_AGG(DISTINCT productid) FILTER (WHERE productid IS NOT NULL) AS product_ids
    FROM public.auditlog, params
    WHERE auditdate BETWEEN params.start_date AND params.end_date
      AND taskid IS NOT NULL
      AND tasktype IN (` + moderationTaskTypes + `)
    GROUP BY taskid, username, tasktype
    HAVING MAX(CASE WHEN auditsubtype IN (39, 55) THEN auditdate END) IS NOT NULL
),

out_of_task_user_actions AS (
    SELECT username, productid, auditdate, auditsubtype
    FROM public.auditlog, params
    WHERE auditdate BETWEEN params.start_date AND params.end_date + interval '12 hours'
      AND productid IS NOT NULL
      AND taskid IS NULL
      AND auditsubtype NOT IN (38, 39, 55, 86, 63)
      AND username NOT IN ('datapipe', 'replicator', 'fingerprintchecker', 'prefilter_bot')
),

violations AS (
    SELECT
        ct.taskid,
        ct.tasktype,
        ct.username,
        ct.start_time,
        ct.close_time,
        ot.productid,
        ot.auditsubtype AS violation_subtype
    FROM out_of_task_user_actions ot
    JOIN closed_tasks ct
      ON ot.productid = ANY(ct.product_ids)
     AND ot.username = ct.username
     AND ot.auditdate > ct.close_time
)

SELECT
    taskid AS task_id,
    username AS user_name,
    tasktype AS task_type,
    start_time,
    close_time,
    ARRAY_AGG(DISTINCT productid ORDER BY productid) AS violated_products,
    ARRAY_AGG(DISTINCT violation_subtype) AS violation_subtypes
FROM violations
WHERE taskid IS NOT NULL
GROUP BY taskid, username, tasktype, start_time, close_time
ORDER BY username, close_time;
`

// defectsQuery reads defect records together with their current revoke
// state, so a defect revoked after first observation comes back with
// status 'revoked' on the next pass.
const defectsQuery = `
SELECT
    a.id AS auditlog_id,
    a.productid AS product_id,
    a.auditdate AS defect_date,
    a.username AS defect_by,
    jsonvalue->>'DefectTaskUserName' AS defect_to,
    jsonvalue->>'DefectTaskType' AS defect_type,
    jsonvalue->>'SourceUrl' AS source_url,
    jsonvalue->>'Reason' AS reason,
    CASE
        WHEN r.id IS NOT NULL THEN 'revoked'
        ELSE 'active'
    END AS status,
    r.revokedate AS revoke_date,
    r.username AS revoked_by
FROM public.auditlog a
LEFT JOIN public.defectsrevoke r ON a.id = r.auditrecordid
WHERE a.auditdate >= '{{start}}'::timestamp
  AND a.auditdate <= '{{end}}'::timestamp
  AND a.auditsubtype = 58
ORDER BY a.auditdate DESC;
`
