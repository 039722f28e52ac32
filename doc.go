/*
Package tickdb contains an append-only, single-writer storage engine
for per-instrument market tick data: trade prints and depth-bounded
quote snapshots, bucketed into fixed-duration chunks of a single
trading day.

Data Structure Documentation

# File

A file holds one instrument for one calendar day. It starts with a
textual header, followed by a fixed-size chunk index and the record
stream.

	File layout:
	+--------+-------------+----------+----------+-------+----------+
	| header | chunk index | record 1 | record 2 |  ...  | record n |
	+--------+-------------+----------+----------+-------+----------+

	Header:
	+-----------+--------------------+-------+--------------------+------------+
	| #!tickdb  |  key: value (LF)   |  ...  |  key: value (LF)   | blank line |
	+-----------+--------------------+-------+--------------------+------------+

The header carries the fields version, stock, date, depth, scale and
chunk_size, one per line, in "key: value" form.

# Chunk index

The chunk index is an array of ceil(86400/chunk_size) slots, one per
time bucket of the day. Each slot is a 64-bit little-endian byte
offset, relative to the start of the index, of the first record of
that bucket; zero marks a bucket that has not started. Slots are
written exactly once, with a positioned write, when the first record
of a bucket is appended.

	Chunk index:
	+--------------------+--------------------+-------+--------------------+
	| offset 0 (8 bytes) | offset 1 (8 bytes) |  ...  | offset n (8 bytes) |
	+--------------------+--------------------+-------+--------------------+

# Records

Records are self-delimiting and carry no length prefix. Prices are
stored as fixed-point integers, round(price*scale). The first quote of
every chunk is a full snapshot; subsequent quotes are stored as
per-level deltas against the previous snapshot, with a delta-encoded
timestamp.

	Trade:
	+----------+--------------+----------------+-----------------+
	| tag (1B) | ts (uvarint) | price (varint) | volume (varint) |
	+----------+--------------+----------------+-----------------+

	Full quote:
	+----------+--------------+---------------+--------------------------------------+
	| tag (1B) | ts (uvarint) | len (uvarint) | payload, optionally snappy-compressed |
	+----------+--------------+---------------+--------------------------------------+

	Full quote payload (bids then asks, depth levels per side):
	+----------------+-----------------+-------+
	| price (varint) | volume (varint) |  ...  |
	+----------------+-----------------+-------+

	Delta quote:
	+----------+--------------+-----------------+------------------+-------+
	| tag (1B) | dt (varint)  | dprice (varint) | dvolume (varint) |  ...  |
	+----------+--------------+-----------------+------------------+-------+

Because every chunk starts with a record carrying an absolute
timestamp, an existing file can always be fast-forwarded: on open the
tail after the last chunk boundary is replayed and any trailing bytes
that do not form a complete record are truncated. This makes it safe
to resume appending to a file left behind by a crashed writer.
*/
package tickdb
