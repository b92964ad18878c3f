// SPDX-License-Identifier: Apache-2.0

package schema

// The bulk introspection queries. Inspect executes exactly these nine
// queries regardless of table count N (spec.md §4.1 "bulk" requirement);
// InspectTable runs the same nine.
const (
	queryTables = `
SELECT c.relname AS table_name,
       c.reltuples::bigint AS row_estimate,
       pg_total_relation_size(c.oid) AS size_bytes
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p')
  AND n.nspname = $1
  AND c.relname NOT LIKE 'pg\_%'
  AND c.relname NOT LIKE '\_prisma\_%'
  AND c.relname NOT LIKE 'drizzle\_%'`

	queryColumns = `
SELECT c.table_name,
       c.column_name,
       c.data_type,
       c.udt_name,
       c.is_nullable = 'YES' AS is_nullable,
       c.column_default,
       c.character_maximum_length,
       c.numeric_precision,
       c.ordinal_position,
       c.is_generated = 'ALWAYS' OR c.identity_generation IS NOT NULL AS is_generated
FROM information_schema.columns c
WHERE c.table_schema = $1`

	queryPrimaryKeys = `
SELECT con.conrelid::regclass::text AS table_name,
       att.attname AS column_name
FROM pg_constraint con
JOIN unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
JOIN pg_namespace n ON n.oid = con.connamespace
WHERE con.contype = 'p' AND n.nspname = $1
ORDER BY table_name, k.ord`

	queryForeignKeys = `
SELECT con.conname,
       con.conrelid::regclass::text AS table_name,
       array_agg(att.attname ORDER BY k.ord) AS columns,
       con.confrelid::regclass::text AS referenced_table,
       array_agg(fatt.attname ORDER BY k.ord) AS referenced_columns,
       con.confupdtype,
       con.confdeltype
FROM pg_constraint con
JOIN pg_namespace n ON n.oid = con.connamespace
JOIN unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
JOIN unnest(con.confkey) WITH ORDINALITY AS fk(attnum, ord) ON fk.ord = k.ord
JOIN pg_attribute fatt ON fatt.attrelid = con.confrelid AND fatt.attnum = fk.attnum
WHERE con.contype = 'f' AND n.nspname = $1
GROUP BY con.conname, con.conrelid, con.confrelid, con.confupdtype, con.confdeltype`

	queryConstraints = `
SELECT con.conname,
       con.conrelid::regclass::text AS table_name,
       con.contype,
       pg_get_constraintdef(con.oid) AS definition,
       COALESCE((
         SELECT array_agg(att.attname ORDER BY k.ord)
         FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
         JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
       ), '{}') AS columns
FROM pg_constraint con
JOIN pg_namespace n ON n.oid = con.connamespace
WHERE con.contype IN ('c', 'u', 'x') AND n.nspname = $1`

	queryIndexes = `
SELECT t.relname AS table_name,
       ic.relname AS index_name,
       ix.indisunique,
       pg_get_indexdef(ix.indexrelid) AS definition,
       array(
         SELECT att.attname
         FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
         JOIN pg_attribute att ON att.attrelid = t.oid AND att.attnum = k.attnum
         ORDER BY k.ord
       ) AS columns
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class ic ON ic.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1 AND NOT ix.indisprimary`

	queryEnums = `
SELECT t.typname AS enum_name,
       e.enumlabel AS value
FROM pg_type t
JOIN pg_enum e ON e.enumtypid = t.oid
JOIN pg_namespace n ON n.oid = t.typnamespace
WHERE n.nspname = $1
ORDER BY t.typname, e.enumsortorder`

	queryTriggers = `
SELECT c.relname AS table_name, tg.tgname AS trigger_name
FROM pg_trigger tg
JOIN pg_class c ON c.oid = tg.tgrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE NOT tg.tgisinternal AND n.nspname = $1`

	queryServerVersion = `SHOW server_version`
)
