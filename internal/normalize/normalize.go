// Package normalize 行规范化：Unicode 合成、数字折叠、公式注入防护
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"allocexport/internal/model"
)

// 以这些字符开头的值可能被电子表格当作公式执行或吞掉首字符。
// 引号本身也在列：以引号开头的原文必须再加一层前缀，
// 读回方剥恰好一个前缀才能还原原文。
const formulaTriggers = "=+-@\t\r'"

// GuardPrefix 公式防护前缀，读回时剥掉一个即可还原原文
const GuardPrefix = "'"

// Normalizer 按导出档案规范化源记录，纯函数，无副作用
type Normalizer struct {
	profile *model.ExportProfile
}

// New 创建规范化器
func New(profile *model.ExportProfile) *Normalizer {
	return &Normalizer{profile: profile}
}

// Normalize 把源记录转为与档案列对齐的规范化行。
// 从不报错：无法规范化的值退化为补零或原样字符串，上游负责校验。
func (n *Normalizer) Normalize(rec model.Record) model.NormalizedRow {
	values := make([]string, len(n.profile.Fields))
	for i, field := range n.profile.Fields {
		v := Text(rec.Value(field))
		if n.profile.IsPhone(field) {
			v = Phone(v)
		}
		if width, ok := n.profile.PadWidths[field]; ok {
			v = PadNumeric(v, width)
		}
		values[i] = GuardFormula(v)
	}
	return model.NormalizedRow{Values: values}
}

// Rows 把源记录迭代器包装为规范化行迭代器
func (n *Normalizer) Rows(src model.RecordIter) model.RowIter {
	return &normalizingIter{n: n, src: src}
}

type normalizingIter struct {
	n   *Normalizer
	src model.RecordIter
}

func (it *normalizingIter) Next() (model.NormalizedRow, bool, error) {
	rec, ok, err := it.src.Next()
	if err != nil || !ok {
		return model.NormalizedRow{}, false, err
	}
	return it.n.Normalize(rec), true, nil
}

// Text 文本规范化：NFC 合成、非 ASCII 十进制数字折叠、
// 零宽/方向标记剥离、控制字符剥离、首尾空白裁剪
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		r = foldDigit(r)
		switch {
		case isZeroWidth(r):
			continue
		case r < 0x20 || r == 0x7F:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// foldDigit 把波斯/阿拉伯-印度数字折叠为 ASCII
func foldDigit(r rune) rune {
	switch {
	case r >= 0x06F0 && r <= 0x06F9: // 波斯数字 ۰-۹
		return '0' + (r - 0x06F0)
	case r >= 0x0660 && r <= 0x0669: // 阿拉伯-印度数字 ٠-٩
		return '0' + (r - 0x0660)
	}
	return r
}

func isZeroWidth(r rune) bool {
	switch r {
	case 0x200B, // ZERO WIDTH SPACE
		0x200C, // ZERO WIDTH NON-JOINER
		0x200D, // ZERO WIDTH JOINER
		0x200E, // LEFT-TO-RIGHT MARK
		0x200F, // RIGHT-TO-LEFT MARK
		0xFEFF, // ZERO WIDTH NO-BREAK SPACE
		0x00AD: // SOFT HYPHEN
		return true
	}
	return false
}

// GuardFormula 为疑似公式的值加防护前缀，空值原样返回
func GuardFormula(s string) string {
	if s == "" {
		return s
	}
	if strings.ContainsRune(formulaTriggers, rune(s[0])) {
		return GuardPrefix + s
	}
	return s
}

// EnsureGuarded 写出前的防护兜底。规范化输出的值已经带前缀，
// 原样放行；漏网的触发值补一个前缀。对已防护的值幂等，
// 绝不产生第二个前缀。
func EnsureGuarded(s string) string {
	if strings.HasPrefix(s, GuardPrefix) {
		return s
	}
	return GuardFormula(s)
}

// UnguardFormula 剥掉恰好一个防护前缀（读回/测试用）
func UnguardFormula(s string) string {
	return strings.TrimPrefix(s, GuardPrefix)
}

// Phone 手机号整理：折叠数字后仅保留数字位，
// 国际前缀 98/0098 归一为 0，10 位 9 开头的号码补前导 0。
// 整理不出合法形态时返回已清洗的数字串。
func Phone(s string) string {
	if s == "" {
		return ""
	}
	var digits strings.Builder
	for _, r := range s {
		r = foldDigit(r)
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case strings.HasPrefix(d, "0098"):
		d = "0" + d[4:]
	case strings.HasPrefix(d, "98") && len(d) == 12:
		d = "0" + d[2:]
	}
	if len(d) == 10 && d[0] == '9' {
		d = "0" + d
	}
	return d
}

// PadNumeric 纯数字值补零到固定宽度；非数字值原样返回。
// 先剥多余前导零再补齐，"0007" 与 "7" 在宽度 3 下都得到 "007"。
func PadNumeric(s string, width int) string {
	if s == "" || width <= 0 {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	if len(trimmed) >= width {
		return trimmed
	}
	return strings.Repeat("0", width-len(trimmed)) + trimmed
}
