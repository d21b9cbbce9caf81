// Package types provides unified type definitions for the MemFlow memory substrate.
//
// It contains the persisted domain model (Packet, SemanticEmbedding,
// KnowledgeFact, EntityRelationship, Reflection, FeedbackEvent) and the
// structured error model shared by every backend adapter. Packages in this
// module accept and return these types; they carry no storage concerns.
package types
