/*
Package log provides structured logging for the storage engine using
zerolog.

	Init(Config) sets the global Logger (JSON in production, console in dev).
	WithComponent/WithDataType/WithTable/WithSubject derive child loggers that
	carry a field for the rest of their call chain, mirroring the
	component/node/service/task child-logger pattern used throughout the rest
	of the codebase.
*/
package log
