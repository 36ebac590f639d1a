// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin provides the standard skill set: web search, knowledge
// base query/upload/delete, long-term account memory and full document
// reading.
package builtin

import (
	"github.com/mentat-ai/mentat/pkg/retrieval"
	"github.com/mentat-ai/mentat/pkg/skills"
)

// Skill names.
const (
	SkillTavilySearch     = "tavily_search"
	SkillKnowledgeQuery   = "knowledge_base_query"
	SkillKnowledgeUpload  = "knowledge_base_upload"
	SkillKnowledgeDelete  = "knowledge_base_delete"
	SkillMemoryWrite      = "account_memory_write"
	SkillMemoryRead       = "account_memory_read"
	SkillReadFullDocument = "read_full_document"
)

// Deps are the collaborators the built-in skills need. Nil collaborators
// leave their skills registered but failing with a clear message.
type Deps struct {
	Pipeline  *retrieval.Pipeline
	Search    WebSearcher
	Parser    DocumentParser
	UploadDir string
}

func queryParam(desc string, required bool) skills.Param {
	return skills.Param{Name: "query", Description: desc, Type: skills.ParamString, Required: required}
}

// Register adds every built-in skill to reg in a stable order.
func Register(reg *skills.Registry, deps Deps) error {
	if deps.Parser == nil {
		deps.Parser = PlainTextParser{}
	}
	descriptors := []skills.Descriptor{
		{
			Name:        SkillTavilySearch,
			Description: "Search web. Args: query",
			Capability:  skills.CapWebSearch,
			Handler:     &webSearch{searcher: deps.Search},
			Params:      []skills.Param{queryParam("Search query", true)},
		},
		{
			Name:        SkillKnowledgeQuery,
			Description: "Search in uploaded files or knowledge base. Args: query",
			Capability:  skills.CapKnowledgeRead,
			Handler:     &knowledgeQuery{pipeline: deps.Pipeline},
			Params:      []skills.Param{queryParam("What to look for in the knowledge base", true)},
		},
		{
			Name:        SkillKnowledgeUpload,
			Description: "Store text in the knowledge base. Args: title, text, scope(global|session, optional)",
			Capability:  skills.CapKnowledgeWrite,
			Handler:     &knowledgeUpload{pipeline: deps.Pipeline},
			Params: []skills.Param{
				{Name: "title", Description: "Document title", Type: skills.ParamString, Required: true},
				{Name: "text", Description: "Document text", Type: skills.ParamString, Required: true},
				{Name: "scope", Description: "global or session, default global", Type: skills.ParamString},
			},
		},
		{
			Name:        SkillKnowledgeDelete,
			Description: "Delete global doc. Args: title",
			Capability:  skills.CapKnowledgeWrite,
			Handler:     &knowledgeDelete{pipeline: deps.Pipeline},
			Params: []skills.Param{
				{Name: "title", Description: "Title of the global document", Type: skills.ParamString, Required: true},
			},
		},
		{
			Name:        SkillMemoryWrite,
			Description: "Save info to long-term memory. Args: content, category",
			Capability:  skills.CapMemory,
			Handler:     skills.HandlerFunc(memoryWrite),
			Params: []skills.Param{
				{Name: "content", Description: "Fact to remember", Type: skills.ParamString, Required: true},
				{Name: "category", Description: "Free-form category", Type: skills.ParamString},
			},
		},
		{
			Name:        SkillMemoryRead,
			Description: "Read long-term memory. Args: query(optional), limit(int)",
			Capability:  skills.CapMemory,
			Handler:     skills.HandlerFunc(memoryRead),
			Params: []skills.Param{
				queryParam("Optional filter", false),
				{Name: "limit", Description: "Maximum records to return", Type: skills.ParamNumber},
			},
		},
		{
			Name:        SkillReadFullDocument,
			Description: "Read the COMPLETE content of a file. Use ONLY when user asks for 'full content', 'whole file'. Args: filename",
			Capability:  skills.CapNone,
			Handler:     &documentReader{root: deps.UploadDir, parser: deps.Parser},
			Params: []skills.Param{
				{Name: "filename", Description: "Name of an uploaded file", Type: skills.ParamString, Required: true},
			},
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
