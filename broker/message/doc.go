/*
Package message provides the acknowledgment (Ack) message exchanged between
devices executing remote commands and the originators of those commands.

A device emits one Ack per response event: zero or more ACCEPTED/PROGRESS
acks followed by one terminal status, by convention of the producer. Acks are
encoded as JSON documents whose keys match the field names used by the rest of
the dtalk ecosystem (cmdSn, deviceId, deviceMac, item, value, status and
statusMessage). Status values travel as their symbolic names.

The schema used by SchemaValidator lives in ack_schema.json and is embedded
into the binary.
*/
package message
