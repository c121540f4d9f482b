package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// SubserverFields 提供 subserver/prefix/location 字段，供加载、卸载与控制接口日志复用。
func SubserverFields(name, prefix, location string) logrus.Fields {
	return logrus.Fields{
		"subserver": name,
		"prefix":    prefix,
		"location":  location,
	}
}

// RequestFields 描述一次 HTTP 请求的基础信息，供访问日志与插件错误日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	fields := logrus.Fields{
		"method": method,
		"path":   path,
		"status": status,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
