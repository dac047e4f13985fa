// Package report 路径树与求解结果的文本输出
package report

import (
	"fmt"
	"io"
	"sort"

	"bscanner/internal/state"

	"github.com/fatih/color"
	"github.com/xlab/treeprint"
)

var (
	nameColor  = color.New(color.FgCyan).SprintFunc()
	valueColor = color.New(color.FgGreen).SprintFunc()
	endColor   = color.New(color.FgYellow).SprintFunc()
)

type pathNode struct {
	children map[state.Decision]*pathNode
	order    []state.Decision
	ends     []string
}

func newPathNode() *pathNode {
	return &pathNode{children: make(map[state.Decision]*pathNode)}
}

// PathTree 按分支决策合并所有路径
type PathTree struct {
	root  *pathNode
	paths int
}

func NewPathTree() *PathTree {
	return &PathTree{root: newPathNode()}
}

// Add records one finished path; end describes how it finished.
func (pt *PathTree) Add(trail []state.Decision, end string) {
	node := pt.root
	for _, d := range trail {
		child, ok := node.children[d]
		if !ok {
			child = newPathNode()
			node.children[d] = child
			node.order = append(node.order, d)
		}
		node = child
	}
	node.ends = append(node.ends, end)
	pt.paths++
}

func (pt *PathTree) Paths() int { return pt.paths }

func (pt *PathTree) String() string {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%d paths", pt.paths))
	pt.root.render(tree)
	return tree.String()
}

func (n *pathNode) render(tree treeprint.Tree) {
	for _, end := range n.ends {
		tree.AddNode(endColor(end))
	}
	for _, d := range n.order {
		n.children[d].render(tree.AddBranch(d.String()))
	}
}

// Values writes one "name = value" line per symbol, sorted by name.
func Values(w io.Writer, values map[string]uint64) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %s\n", nameColor(name), valueColor(fmt.Sprintf("%#x", values[name])))
	}
}
