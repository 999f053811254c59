package model

import "strings"

// ChinaProvinces lists provincial-level divisions as they appear in CMA
// warning headlines. Multi-character names that contain shorter ones come
// first so matching prefers the longest name.
var ChinaProvinces = []string{
	"黑龙江", "内蒙古",
	"北京", "天津", "上海", "重庆", "河北", "山西", "辽宁", "吉林",
	"江苏", "浙江", "安徽", "福建", "江西", "山东", "河南", "湖北",
	"湖南", "广东", "海南", "四川", "贵州", "云南", "陕西", "甘肃",
	"青海", "台湾", "广西", "西藏", "宁夏", "新疆", "香港", "澳门",
}

func IsProvince(name string) bool {
	for _, p := range ChinaProvinces {
		if p == name {
			return true
		}
	}
	return false
}

// ProvinceIn returns the first province named in text.
func ProvinceIn(text string) string {
	for _, p := range ChinaProvinces {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}
