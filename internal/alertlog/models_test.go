package alertlog

import "testing"

func eventsOf(n int) []Event {
	return make([]Event, n)
}

func TestNewPageMiddle(t *testing.T) {
	// 25 行, 每页 10 行, 第 2 页应为 11–20 行且前后都有页。
	page := NewPage(eventsOf(10), 25, PageRequest{Page: 2, PageSize: 10})
	if !page.HasNext {
		t.Fatal("第 2 页之后还有 5 行, has_next 应为 true")
	}
	if !page.HasPrev {
		t.Fatal("第 2 页之前还有 10 行, has_prev 应为 true")
	}
	if page.Total != 25 || page.Page != 2 || page.PageSize != 10 {
		t.Fatalf("分页元数据错误: %+v", page)
	}
}

func TestNewPageFirst(t *testing.T) {
	page := NewPage(eventsOf(10), 25, PageRequest{Page: 1, PageSize: 10})
	if page.HasPrev {
		t.Fatal("首页 has_prev 应为 false")
	}
	if !page.HasNext {
		t.Fatal("首页之后还有数据, has_next 应为 true")
	}
}

func TestNewPageLast(t *testing.T) {
	page := NewPage(eventsOf(5), 25, PageRequest{Page: 3, PageSize: 10})
	if page.HasNext {
		t.Fatal("末页 has_next 应为 false")
	}
	if !page.HasPrev {
		t.Fatal("末页 has_prev 应为 true")
	}
}

func TestNewPageEmpty(t *testing.T) {
	page := NewPage(nil, 0, PageRequest{Page: 1, PageSize: 10})
	if page.HasNext || page.HasPrev {
		t.Fatalf("空结果不应有前后页: %+v", page)
	}
}

func TestPageRequestNormalize(t *testing.T) {
	req := PageRequest{Page: 0, PageSize: 0}.Normalize()
	if req.Page != 1 || req.PageSize != 20 {
		t.Fatalf("默认值错误: %+v", req)
	}

	req = PageRequest{Page: 3, PageSize: 1000}.Normalize()
	if req.PageSize != 200 {
		t.Fatalf("page_size 应截断到 200: %+v", req)
	}
	if req.Offset() != 400 {
		t.Fatalf("offset 计算错误: %d", req.Offset())
	}
}
