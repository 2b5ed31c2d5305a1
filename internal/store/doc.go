// Package store provides access to the conversation message collection
// in MongoDB.
//
// The relay inserts inbound documents and pages history for live
// sessions. Outbound replies are written by an external processing
// service and reach this process only through the change feed.
package store
