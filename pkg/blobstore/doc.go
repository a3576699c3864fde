/*
Package blobstore holds only the two visibility levels the specification
resolves explicitly: Shared (any authenticated role) and ServerOnly (server
role only). There is no per-recipient allow-list; adding one is the natural
extension point flagged by the specification's open question on blob
permissions — it would take the shape of an additional []string field on
record and a third Store.Put variant accepting it.
*/
package blobstore
