// Package core provides the business logic for statement imports.
//
// This package is the heart of the importer, containing all domain logic
// independent of any transport layer. It can be used by web handlers, the
// CLI, or tests without modification.
//
// # Lifecycle
//
// An import moves through a staged lifecycle, one [UploadRecord] per file:
//
//  1. [Service.Upload] stores the file, detects its format and selects a parser
//  2. [Service.Preview] parses the file once and caches the [parser.ParseResult]
//  3. [Service.AnalyzeDuplicates] scores each row against existing expenses
//  4. [Service.Confirm] creates expenses for the selected rows
//  5. [Service.Rollback] deletes every expense an import created
//
// Upload status only moves forward: uploaded, parsed, imported. Any
// non-imported upload may become failed.
//
// # At-Most-One Import
//
// Operations on the same upload are serialized by a per-upload lock, and a
// confirm on an imported upload fails with [ErrAlreadyImported]. The rollback
// manifest is persisted before the first expense is created and updated
// after each one, so a crash mid-import never leaves untracked expenses.
//
// When the expense store implements [Transactor] the whole batch runs in one
// transaction. Otherwise a fatal error mid-batch deletes what was created;
// ids that could not be deleted stay in a failed manifest for a later
// rollback.
//
// # Duplicate Detection
//
// The [Matcher] compares each parsed row with the user's expenses dated
// within three days. Amount, date, description and merchant each contribute
// to a score in [0, 1]; a best score above 0.8 marks the row as a likely
// duplicate and confirm skips it.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL001-VAL099: Validation errors (request fields, dates, numbers)
//   - FILE001-FILE099: File errors (size, format, encoding)
//   - PARSE001-PARSE099: Statement parsing errors
//   - IMP001-IMP099: Import state errors
//   - RB001-RB099: Rollback errors
//   - UPL001-UPL099: Upload session errors
//   - DB001-DB099: Database errors
package core
