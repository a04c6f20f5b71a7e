package tensor

import "fmt"

// Grad returns d(out)/d(w) for each w in wrt. out must be 1x1. With create set, the
// returned gradients are themselves differentiable.
func Grad(out *Tensor, wrt []*Tensor, create bool) []*Tensor {
	if out.Rows != 1 || out.Cols != 1 {
		panic(fmt.Sprintf("tensor: Grad of %dx%d output", out.Rows, out.Cols))
	}
	grads := propagate(out, create)
	res := make([]*Tensor, len(wrt))
	for i, w := range wrt {
		if g, ok := grads[w]; ok {
			res[i] = g
		} else {
			res[i] = Zeros(w.Rows, w.Cols)
		}
	}
	return res
}

// Backward accumulates d(out)/d(leaf) into Grad for every leaf reachable from out.
func Backward(out *Tensor) {
	if out.Rows != 1 || out.Cols != 1 {
		panic(fmt.Sprintf("tensor: Backward of %dx%d output", out.Rows, out.Cols))
	}
	if !out.requiresGrad {
		return
	}
	for node, g := range propagate(out, false) {
		if !node.IsLeaf() {
			continue
		}
		if node.Grad == nil {
			node.Grad = make([]float64, len(node.Data))
		}
		for i, v := range g.Data {
			node.Grad[i] += v
		}
	}
}

// propagate runs the reverse sweep and returns the gradient of every visited node.
func propagate(out *Tensor, create bool) map[*Tensor]*Tensor {
	order := topo(out)
	grads := map[*Tensor]*Tensor{out: Full(1, 1, 1)}
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok || node.backward == nil {
			continue
		}
		for j, pg := range node.backward(g, create) {
			p := node.parents[j]
			if pg == nil || !p.requiresGrad {
				continue
			}
			if prev, ok := grads[p]; ok {
				grads[p] = Add(prev, pg)
			} else {
				grads[p] = pg
			}
		}
	}
	return grads
}

// topo orders the nodes that require grad so that parents precede children.
func topo(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] || !t.requiresGrad {
			return
		}
		visited[t] = true
		for _, p := range t.parents {
			visit(p)
		}
		order = append(order, t)
	}
	visit(root)
	return order
}
