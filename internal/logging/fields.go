package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// TaskFields 提供任务维度的字段，供队列与下载日志复用。
func TaskFields(action, taskID, bookID string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"task_id": taskID,
		"book_id": bookID,
	}
}

// CacheFields 描述缓存目录操作，name 为空时仅输出目录。
func CacheFields(action, dir, name string) logrus.Fields {
	fields := logrus.Fields{
		"action":    action,
		"cache_dir": dir,
	}
	if name != "" {
		fields["name"] = name
	}
	return fields
}
