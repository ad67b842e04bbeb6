package workflow

// Variables 变量池：名称到值的映射。
type Variables map[string]any

// Clone 返回浅拷贝。并发节点各自拿到一份快照，互不影响。
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge 把 other 写入 v，同名键被覆盖。
func (v Variables) Merge(other Variables) {
	for k, val := range other {
		v[k] = val
	}
}

// Select 按 names 顺序挑出变量。返回第一个缺失的名字（全部存在时为空）。
func (v Variables) Select(names []string) (Variables, string) {
	out := make(Variables, len(names))
	for _, n := range names {
		val, ok := v[n]
		if !ok {
			return nil, n
		}
		out[n] = val
	}
	return out, ""
}

// Missing 返回 names 中第一个不在 v 里的名字
func (v Variables) Missing(names []string) string {
	for _, n := range names {
		if _, ok := v[n]; !ok {
			return n
		}
	}
	return ""
}

// Map 转为普通 map，便于交给模板和表达式求值
func (v Variables) Map() map[string]any { return map[string]any(v) }
