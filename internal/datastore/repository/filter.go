package repository

import (
	"strings"

	"gorm.io/gorm"
)

// Filter holds the structural predicates of an image query. Every field
// is optional; set fields are combined with AND.
type Filter struct {
	// Before keeps records with mtime strictly less than the value.
	Before *int64
	// IDs keeps records whose id is in the set. Empty means no restriction.
	IDs []int64
	// Texts keeps records whose successful recognition result has a
	// fragment containing any of the terms (case-sensitive).
	Texts []string
	// CreatedFrom and CreatedTo bound ctime, both inclusive.
	CreatedFrom *int64
	CreatedTo   *int64
}

// fragmentExpr yields each recognized string of a json_each row: the text
// of a box object, or the payload itself when data is a plain string.
const fragmentExpr = "CASE WHEN j.type = 'object' THEN json_extract(j.value, '$.text') ELSE j.value END"

// textPredicate builds a parameterized EXISTS clause matching any term.
func textPredicate(terms []string) (string, []any) {
	conds := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, term := range terms {
		conds[i] = "instr(" + fragmentExpr + ", ?) > 0"
		args[i] = term
	}
	sql := "json_extract(ocr, '$.code') = 100 AND EXISTS (" +
		"SELECT 1 FROM json_each(ocr, '$.data') AS j WHERE " + strings.Join(conds, " OR ") + ")"
	return sql, args
}

// apply adds the filter's predicates to tx.
func (f *Filter) apply(tx *gorm.DB) *gorm.DB {
	if f == nil {
		return tx
	}
	if f.Before != nil {
		tx = tx.Where("mtime < ?", *f.Before)
	}
	if len(f.IDs) > 0 {
		tx = tx.Where("id IN ?", f.IDs)
	}
	if len(f.Texts) > 0 {
		sql, args := textPredicate(f.Texts)
		tx = tx.Where(sql, args...)
	}
	if f.CreatedFrom != nil {
		tx = tx.Where("ctime >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		tx = tx.Where("ctime <= ?", *f.CreatedTo)
	}
	return tx
}
