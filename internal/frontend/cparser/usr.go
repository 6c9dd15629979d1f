package cparser

import (
	"fmt"
	"path/filepath"
)

// USRs follow clang's scheme for C so that results line up with other
// clang-based tools:
//
//	c:@F@name            external function
//	c:file.c@F@name      static function
//	c:@name              external variable
//	c:file.c@name        static variable
//	c:file.c@42@F@fn@x   local variable or parameter declared at byte 42
//	c:@S@tag             struct (U for union, E for enum)
//	c:@SA@name           anonymous struct named by a typedef
//	c:@S@tag@FI@field    field
//	c:@E@tag@NAME        enumerator
//	c:@T@name            typedef

func usrFunction(file, name string, static bool) string {
	if static {
		return fmt.Sprintf("c:%s@F@%s", filepath.Base(file), name)
	}
	return "c:@F@" + name
}

func usrGlobal(file, name string, static bool) string {
	if static {
		return fmt.Sprintf("c:%s@%s", filepath.Base(file), name)
	}
	return "c:@" + name
}

func usrLocal(file string, offset uint, fn, name string) string {
	return fmt.Sprintf("c:%s@%d@F@%s@%s", filepath.Base(file), offset, fn, name)
}

func usrStaticLocal(file, fn, name string) string {
	return fmt.Sprintf("c:%s@F@%s@%s", filepath.Base(file), fn, name)
}

func usrTag(prefix, name string) string {
	return fmt.Sprintf("c:@%s@%s", prefix, name)
}

func usrAnonTag(prefix, typedefName string) string {
	return fmt.Sprintf("c:@%sA@%s", prefix, typedefName)
}

func usrUnnamedTag(prefix, file string, offset uint) string {
	return fmt.Sprintf("c:@%sA@%s@%d", prefix, filepath.Base(file), offset)
}

func usrField(record, name string) string {
	return record + "@FI@" + name
}

func usrEnumerator(enum, name string) string {
	return enum + "@" + name
}

func usrTypedef(file, fn, name string) string {
	if fn != "" {
		return fmt.Sprintf("c:%s@F@%s@T@%s", filepath.Base(file), fn, name)
	}
	return "c:@T@" + name
}
