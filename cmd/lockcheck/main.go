// Command lockcheck statically enforces the lock-ordering invariant
// spec.md §4.1 leaves to the implementer: process-table spinlock ->
// inode-cache spinlock -> file-table spinlock -> buffer-cache
// spinlock -> per-buffer sleeplock / per-inode sleeplock. Acquiring a
// lock from an earlier tier while a later-tier lock is already held,
// anywhere in the same function body, is reported as a violation.
//
// _teacher carries no equivalent tool (Biscuit leaves this invariant
// as a comment for reviewers to check by eye); there is no teacher
// source to imitate here, so this command follows
// golang.org/x/tools/go/packages' own documented loading API directly,
// the same way package prof follows github.com/google/pprof/profile's
// documented shape where no teacher source survived retrieval either.
package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
)

// lockKey names one tracked lock by its package path, owning struct
// type and field.
type lockKey struct {
	pkgPath string
	recv    string // the owning struct's type name
	field   string // the field holding the *lock.Spinlock_t / *lock.Sleeplock_t
}

// tiers assigns each lock in spec.md §4.1's named chain its position;
// locks outside the chain (balloc, ialloc, devtab, pipe, console) are
// absent from this map and go unchecked, exactly like spec.md only
// orders these five.
var tiers = map[lockKey]int{
	{"mpk/proc", "Table_t", "Lock"}: 0, // process-table spinlock
	{"mpk/ext2", "FS_t", "icacheLock"}: 1, // inode-cache spinlock
	{"mpk/file", "Table_t", "mu"}: 2, // file-table spinlock
	{"mpk/buf", "Cache", "mu"}: 3, // buffer-cache spinlock
	{"mpk/buf", "Buf_t", "lk"}: 4, // per-buffer sleeplock
	{"mpk/ext2", "Inode_t", "lk"}: 4, // per-inode sleeplock
}

var tierName = map[int]string{
	0: "process-table spinlock",
	1: "inode-cache spinlock",
	2: "file-table spinlock",
	3: "buffer-cache spinlock",
	4: "per-buffer/per-inode sleeplock",
}

// held is one entry on the function-local stack of currently-acquired
// tracked locks.
type held struct {
	tier int
	key  lockKey
	pos  token.Position
}

type violation struct {
	pos       token.Position
	outer     held
	innerKey  lockKey
	innerTier int
}

func main() {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedFiles |
		packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "mpk/...")
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockcheck: %v\n", err)
		os.Exit(1)
	}

	var violations []violation
	for _, pkg := range pkgs {
		for _, f := range pkg.Syntax {
			for _, decl := range f.Decls {
				fd, ok := decl.(*ast.FuncDecl)
				if !ok || fd.Body == nil {
					continue
				}
				violations = append(violations, checkFunc(pkg, fd)...)
			}
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].pos.String() < violations[j].pos.String()
	})
	for _, v := range violations {
		fmt.Printf("%s: acquires %s (%s) while holding %s (%s) from %s, violating spec order\n",
			v.pos, describe(v.innerKey), tierName[v.innerTier],
			describe(v.outer.key), tierName[v.outer.tier], v.outer.pos)
	}
	if len(violations) > 0 {
		os.Exit(1)
	}
}

func describe(k lockKey) string {
	return fmt.Sprintf("%s.%s.%s", k.pkgPath, k.recv, k.field)
}

// checkFunc walks fd's body in source order, tracking a stack of
// currently-held tracked locks and flagging any acquire of an
// earlier-or-equal tier while a later tier is already held. This is
// intentionally a single-function, intra-procedural pass: a lock
// acquired in one function and released in a callee (or vice versa)
// is outside its scope, the same tradeoff a short teaching tool
// documents rather than hides.
func checkFunc(pkg *packages.Package, fd *ast.FuncDecl) []violation {
	var stack []held
	var out []violation

	ast.Inspect(fd.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		switch sel.Sel.Name {
		case "Acquire":
			k, ok := resolveLockKey(pkg, sel.X)
			if !ok {
				return true
			}
			tier, tracked := tiers[k]
			if !tracked {
				return true
			}
			for _, h := range stack {
				if tier <= h.tier {
					out = append(out, violation{
						pos:       pkg.Fset.Position(call.Pos()),
						outer:     h,
						innerKey:  k,
						innerTier: tier,
					})
				}
			}
			stack = append(stack, held{tier: tier, key: k, pos: pkg.Fset.Position(call.Pos())})
		case "Release":
			k, ok := resolveLockKey(pkg, sel.X)
			if !ok {
				return true
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].key == k {
					stack = append(stack[:i], stack[i+1:]...)
					break
				}
			}
		}
		return true
	})
	return out
}

// resolveLockKey identifies which tracked struct field a lock method
// call's receiver expression (e.g. "t.Lock" in "t.Lock.Acquire(cpu)")
// refers to, using the loaded package's own type information rather
// than any name-string heuristic.
func resolveLockKey(pkg *packages.Package, x ast.Expr) (lockKey, bool) {
	sel, ok := x.(*ast.SelectorExpr)
	if !ok {
		return lockKey{}, false
	}
	selection, ok := pkg.TypesInfo.Selections[sel]
	if !ok {
		return lockKey{}, false
	}
	recv := selection.Recv()
	if ptr, ok := recv.(*types.Pointer); ok {
		recv = ptr.Elem()
	}
	named, ok := recv.(*types.Named)
	if !ok {
		return lockKey{}, false
	}
	return lockKey{
		pkgPath: named.Obj().Pkg().Path(),
		recv:    named.Obj().Name(),
		field:   sel.Sel.Name,
	}, true
}
